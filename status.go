package peafowl

// Status is the result code every dissection entrypoint returns:
// non-negative values are successful outcomes, negative values are errors.
// Grounded on original_source/src/peafowl.c's pfwl_status_t constants and
// pfwl_get_status_msg table.
type Status int

const (
	OK                     Status = 0
	IPFragment             Status = 1
	IPDataRebuilt          Status = 2
	TCPOutOfOrder          Status = 3
	TCPConnectionTerminated Status = 4

	ErrL2Parsing         Status = -1
	ErrL3Parsing         Status = -2
	ErrL4Parsing         Status = -3
	ErrWrongIPVersion    Status = -4
	ErrIPSECNotSupported Status = -5
	ErrIPv6HdrParsing    Status = -6
	ErrMaxFlows          Status = -7
)

// Message returns the human-readable description of a status code, the Go
// equivalent of pfwl_get_status_msg.
func (s Status) Message() string {
	switch s {
	case OK:
		return "everything is ok"
	case IPFragment:
		return "the received IP datagram is a fragment of a bigger datagram"
	case IPDataRebuilt:
		return "the received IP datagram completed reassembly of a bigger datagram"
	case TCPOutOfOrder:
		return "the received TCP segment is out of order and has been buffered"
	case TCPConnectionTerminated:
		return "the TCP connection is terminated"
	case ErrL2Parsing:
		return "the L2 data is unsupported, truncated, or corrupted"
	case ErrL3Parsing:
		return "the L3 data is unsupported, truncated, or corrupted"
	case ErrL4Parsing:
		return "the L4 data is unsupported, truncated, or corrupted"
	case ErrWrongIPVersion:
		return "the packet is neither IPv4 nor IPv6"
	case ErrIPSECNotSupported:
		return "the packet is encrypted using IPSEC, which is not supported"
	case ErrIPv6HdrParsing:
		return "error parsing IPv6 extension headers"
	case ErrMaxFlows:
		return "the maximum number of active flows has been reached"
	default:
		return "unrecognised status code"
	}
}

func (s Status) IsError() bool { return s < 0 }
