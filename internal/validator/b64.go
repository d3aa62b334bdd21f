package validator

import (
	"encoding/base64"
)

// ensure the data length is less than the maximum base64 length for a given
// decoded length without actually decoding
func validateBase64Len(dataLen int, length int) bool {
	return dataLen <= base64.StdEncoding.EncodedLen(length)
}

// ensures an encoded submission archive fits inside the inline envelope
// limit; larger archives must arrive by URL reference
func ValidateArchiveSize(dataLen int, maxArchiveBytes int) bool {
	return validateBase64Len(dataLen, maxArchiveBytes)
}
