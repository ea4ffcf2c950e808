package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DeriveKey produces a stable key from the identifying parts of a
// request. It is a pure function: equal inputs always yield the same
// key, regardless of field ordering inside parameters. Use it only when
// the caller does not supply an explicit key.
//
// The hash covers a canonicalized serialization: parameters are
// round-tripped through encoding/json, whose map keys are emitted in
// sorted order, so two payloads that differ only in field order derive
// the same key.
func DeriveKey(tenantID, userID, operationType string, parameters any) (string, error) {
	canonical, err := canonicalJSON(parameters)
	if err != nil {
		return "", fmt.Errorf("derive key: canonicalize parameters: %w", err)
	}

	h := sha256.New()
	// Length-prefixed fields so ("ab","c") and ("a","bc") cannot collide.
	for _, part := range []string{tenantID, userID, operationType} {
		fmt.Fprintf(h, "%d:%s", len(part), part)
	}
	h.Write(canonical)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON returns a deterministic JSON encoding of v. Raw JSON
// input is normalized by decoding into generic values first, so the
// sorted-key property of encoding/json applies to it as well.
func canonicalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}

	return json.Marshal(generic)
}
