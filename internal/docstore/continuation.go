// Continuation tokens.
//
// A token is a CBOR array (version, container, partition key, last seq)
// in unpadded base64url. It names the container and partition it was issued
// for, so a token replayed against another query is rejected instead of
// silently skipping rows. Decoding is bounded to keep hostile tokens cheap.
package docstore

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const cursorVersion = 1

// cursor is the position encoded in a continuation token.
type cursor struct {
	_            struct{} `cbor:",toarray"`
	Version      uint8
	Container    string
	PartitionKey string
	Seq          int64
}

var (
	cursorEnc cbor.EncMode
	cursorDec cbor.DecMode
)

func init() {
	var err error
	cursorEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("docstore: CBOR encoder initialization failed: " + err.Error())
	}
	cursorDec, err = cbor.DecOptions{
		MaxNestedLevels:  4,
		MaxArrayElements: 16,
		MaxMapPairs:      16,
	}.DecMode()
	if err != nil {
		panic("docstore: CBOR decoder initialization failed: " + err.Error())
	}
}

// encodeCursor is deterministic: the same position always yields the same
// token.
func encodeCursor(c cursor) (string, error) {
	b, err := cursorEnc.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("docstore: encode continuation: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// decodeCursor returns an error wrapping ErrInvalidContinuation for any
// token that is not well formed or carries an unknown version.
func decodeCursor(tok string) (cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return cursor{}, fmt.Errorf("%w: %v", ErrInvalidContinuation, err)
	}
	var c cursor
	if err := cursorDec.Unmarshal(b, &c); err != nil {
		return cursor{}, fmt.Errorf("%w: %v", ErrInvalidContinuation, err)
	}
	if c.Version != cursorVersion || c.Seq <= 0 {
		return cursor{}, fmt.Errorf("%w: unsupported token", ErrInvalidContinuation)
	}
	return c, nil
}
