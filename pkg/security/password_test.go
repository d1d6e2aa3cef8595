package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	encrypted, err := EncryptPassword("s3cret-service-password", "vault-key")
	assert.NoError(t, err)
	assert.NotEmpty(t, encrypted)

	plaintext, err := DecryptPassword(encrypted, "vault-key")
	assert.NoError(t, err)
	assert.Equal(t, "s3cret-service-password", plaintext)
}

func TestDecryptWrongKey(t *testing.T) {
	encrypted, err := EncryptPassword("s3cret", "right-key")
	assert.NoError(t, err)

	_, err = DecryptPassword(encrypted, "wrong-key")
	assert.Error(t, err)
}

func TestDecryptGarbage(t *testing.T) {
	_, err := DecryptPassword("not-base64!!!", "key")
	assert.Error(t, err)

	_, err = DecryptPassword("aGVsbG8=", "key") // valid base64, too short
	assert.Error(t, err)
}

func TestEmptyInputs(t *testing.T) {
	_, err := EncryptPassword("", "key")
	assert.Error(t, err)

	_, err = EncryptPassword("pw", "")
	assert.Error(t, err)

	_, err = DecryptPassword("whatever", "")
	assert.Error(t, err)
}
