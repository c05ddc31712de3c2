package models

// SignatureKind names a family of content signatures in the canonical store
type SignatureKind string

const (
	SignatureStructural  SignatureKind = "structural"
	SignatureFingerprint SignatureKind = "fingerprint"
	SignatureText        SignatureKind = "text"
)

// SignatureKinds lists every kind
var SignatureKinds = []SignatureKind{SignatureStructural, SignatureFingerprint, SignatureText}
