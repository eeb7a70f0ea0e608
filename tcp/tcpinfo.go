package tcp

// LinuxTCPInfo mirrors the kernel's struct tcp_info as returned by
// getsockopt(fd, IPPROTO_TCP, TCP_INFO, ...); see
// https://git.kernel.org/pub/scm/linux/kernel/git/torvalds/linux.git/tree/include/uapi/linux/tcp.h
//
// ncps reads this directly off a socket it just connected or accepted --
// State, RTT and TotalRetrans are what the engine turns into a SYN RTT
// sample and a retransmit count for the recorder. The struct carries gocsv
// tags, but nothing in ncps exports per-connection TCP_INFO; the -csv
// export writes per-interval rows only.
type LinuxTCPInfo struct {
	State       uint8 `csv:"TCP.State"`
	CAState     uint8 `csv:"TCP.CAState"`
	Retransmits uint8 `csv:"TCP.Retransmits"`
	Probes      uint8 `csv:"TCP.Probes"`
	Backoff     uint8 `csv:"TCP.Backoff"`
	Options     uint8 `csv:"TCP.Options"`
	WScale      uint8 `csv:"TCP.WScale"`     //snd_wscale : 4, tcpi_rcv_wscale : 4;
	AppLimited  uint8 `csv:"TCP.AppLimited"` //delivery_rate_app_limited:1;

	RTO    uint32 `csv:"TCP.RTO"` // offset 8
	ATO    uint32 `csv:"TCP.ATO"`
	SndMSS uint32 `csv:"TCP.SndMSS"`
	RcvMSS uint32 `csv:"TCP.RcvMSS"`

	Unacked uint32 `csv:"TCP.Unacked"` // offset 24
	Sacked  uint32 `csv:"TCP.Sacked"`
	Lost    uint32 `csv:"TCP.Lost"`
	Retrans uint32 `csv:"TCP.Retrans"`
	Fackets uint32 `csv:"TCP.Fackets"`

	/* Times. */
	LastDataSent uint32 `csv:"TCP.LastDataSent"` // offset 44
	LastAckSent  uint32 `csv:"TCP.LastAckSent"`  // offset 48
	LastDataRecv uint32 `csv:"TCP.LastDataRecv"` // offset 52
	LastAckRecv  uint32 `csv:"TCP.LastAckRecv"`  // offset 56

	/* Metrics. */
	PMTU        uint32 `csv:"TCP.PMTU"`
	RcvSsThresh uint32 `csv:"TCP.RcvSsThresh"`
	RTT         uint32 `csv:"TCP.RTT"` // microseconds; this is the SYN RTT right after connect/accept
	RTTVar      uint32 `csv:"TCP.RTTVar"`
	SndSsThresh uint32 `csv:"TCP.SndSsThresh"`
	SndCwnd     uint32 `csv:"TCP.SndCwnd"`
	AdvMSS      uint32 `csv:"TCP.AdvMSS"`
	Reordering  uint32 `csv:"TCP.Reordering"`

	RcvRTT   uint32 `csv:"TCP.RcvRTT"`
	RcvSpace uint32 `csv:"TCP.RcvSpace"`

	// TotalRetrans is read immediately after connect/accept, before any data
	// is exchanged, so it is effectively the SYN retransmit count the spec
	// asks tcp_get_info to report.
	TotalRetrans uint32 `csv:"TCP.TotalRetrans"`

	PacingRate    int64 `csv:"TCP.PacingRate"`
	MaxPacingRate int64 `csv:"TCP.MaxPacingRate"`

	BytesAcked    int64 `csv:"TCP.BytesAcked"`
	BytesReceived int64 `csv:"TCP.BytesReceived"`
	SegsOut       int32 `csv:"TCP.SegsOut"`
	SegsIn        int32 `csv:"TCP.SegsIn"`

	NotsentBytes uint32 `csv:"TCP.NotsentBytes"`
	MinRTT       uint32 `csv:"TCP.MinRTT"`
	DataSegsIn   uint32 `csv:"TCP.DataSegsIn"`
	DataSegsOut  uint32 `csv:"TCP.DataSegsOut"`

	DeliveryRate int64 `csv:"TCP.DeliveryRate"`

	BusyTime      int64 `csv:"TCP.BusyTime"`
	RWndLimited   int64 `csv:"TCP.RWndLimited"`
	SndBufLimited int64 `csv:"TCP.SndBufLimited"`

	Delivered   uint32 `csv:"TCP.Delivered"`
	DeliveredCE uint32 `csv:"TCP.DeliveredCE"`

	BytesSent    int64 `csv:"TCP.BytesSent"`
	BytesRetrans int64 `csv:"TCP.BytesRetrans"`

	DSackDups uint32 `csv:"TCP.DSackDups"`
	ReordSeen uint32 `csv:"TCP.ReordSeen"`

	RcvOooPack uint32 `csv:"TCP.RcvOooPack"`

	SndWnd uint32 `csv:"TCP.SndWnd"`
}
