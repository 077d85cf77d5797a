package record

import "io"

// WriteString writes s in the STRING field layout.
func WriteString(w io.Writer, s string) error {
	return fieldCodecs[FieldString].encode(&encoder{w: w}, s, Modifier{})
}

// ReadString reads a value written by WriteString.
func ReadString(r io.Reader) (string, error) {
	v, err := fieldCodecs[FieldString].decode(&decoder{r: r})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// StringSize returns the encoded size of s.
func StringSize(s string) int64 {
	return 4 + int64(len(s))
}
