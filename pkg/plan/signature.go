package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"

	"github.com/cobaltmesh/ucg/pkg/ucgerr"
)

// Signature captures the collective-invocation shape the plan cache keys on
// (spec section 4.3): modifiers, root, count shapes, and datatype/op
// identity. Two invocations with equal signatures are guaranteed compatible
// plans regardless of struct field order, because the key is computed over
// the RFC 8785 canonical JSON form rather than Go's map/struct iteration
// order.
type Signature struct {
	Collective    CollType `json:"collective"`
	Root          int      `json:"root"`
	SendCountShape []int   `json:"send_count_shape,omitempty"`
	RecvCountShape []int   `json:"recv_count_shape,omitempty"`
	DatatypeID    string   `json:"datatype_id"`
	OpID          string   `json:"op_id"`
	Modifiers     []string `json:"modifiers,omitempty"`
}

// Key hashes the signature's canonical JSON form with SHA-256, giving a
// collision-resistant, field-order-independent cache key without hand-rolled
// struct-to-string formatting (SPEC_FULL section 2.1, grounded on the
// teacher's pkg/kernel/csnf canonicalization package).
func (s Signature) Key() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", ucgerr.Wrap(ucgerr.InvalidParam, err, "marshal plan signature")
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", ucgerr.Wrap(ucgerr.InvalidParam, err, "canonicalize plan signature")
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// CacheKey is the full plan-cache key: (algorithm_id, signature) per spec
// section 4.3.
type CacheKey struct {
	Algorithm    AlgorithmID
	SignatureKey string
}
