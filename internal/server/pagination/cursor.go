package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

// EncodeCursor creates an opaque cursor string from the surrogate id of the
// last item on a page. Surrogate ids are assigned in insertion order, so id
// alone is a stable sort key.
func EncodeCursor(id int64) string {
	return base64.URLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
}

// DecodeCursor parses the opaque cursor string back into a surrogate id.
func DecodeCursor(encodedCursor string) (int64, error) {
	decodedBytes, err := base64.URLEncoding.DecodeString(encodedCursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	id, err := strconv.ParseInt(string(decodedBytes), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id in cursor: %w", err)
	}

	return id, nil
}
