package ami

// CauseName maps telephony hangup cause codes to short names used in
// diagnostics and result payloads.
func CauseName(code int) string {
	switch code {
	case 16:
		return "normal_clearing"
	case 17:
		return "user_busy"
	case 18, 19:
		return "no_answer"
	case 21:
		return "call_rejected"
	case 31:
		return "normal_unspecified"
	case 34:
		return "congestion"
	case 127:
		return "interworking"
	default:
		return "unknown"
	}
}
