// pkg/platform/lti/claims.go
package lti

// LTI 1.3 claim names.
const (
	ClaimMessageType = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	ClaimVersion     = "https://purl.imsglobal.org/spec/lti/claim/version"
	ClaimDeployment  = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	ClaimTarget      = "https://purl.imsglobal.org/spec/lti/claim/target_link_uri"
	ClaimContext     = "https://purl.imsglobal.org/spec/lti/claim/context"
	ClaimResource    = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
	ClaimRoles       = "https://purl.imsglobal.org/spec/lti/claim/roles"
	ClaimCustom      = "https://purl.imsglobal.org/spec/lti/claim/custom"

	// Deep linking
	ClaimDLSettings     = "https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings"
	ClaimDLContentItems = "https://purl.imsglobal.org/spec/lti-dl/claim/content_items"
	ClaimDLData         = "https://purl.imsglobal.org/spec/lti-dl/claim/data"

	// Message types
	MsgResourceLink     = "LtiResourceLinkRequest"
	MsgDeepLinkRequest  = "LtiDeepLinkingRequest"
	MsgDeepLinkResponse = "LtiDeepLinkingResponse"

	Version13 = "1.3.0"
)

// StringClaim returns claims[name] when it is a string.
func StringClaim(claims map[string]any, name string) string {
	s, _ := claims[name].(string)
	return s
}
