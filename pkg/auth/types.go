package auth

// SpokeIdentity is the caller resolved from a server-to-server API key
type SpokeIdentity struct {
	// SpokeID is the spoke identifier tokens are issued for
	SpokeID string `json:"spoke_id"`
	// AppID is the hub app the spoke serves, if configured
	AppID string `json:"app_id,omitempty"`
	// URL is the spoke's base URL
	URL string `json:"url"`
}

// String implements fmt.Stringer for log fields
func (s *SpokeIdentity) String() string {
	if s == nil {
		return ""
	}
	return s.SpokeID
}
