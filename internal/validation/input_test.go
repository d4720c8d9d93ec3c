package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePhone(t *testing.T) {
	valid := []string{"01712345678", "+8801712345678", "8801912345678", "017-1234-5678"}
	for _, phone := range valid {
		assert.NoError(t, ValidatePhone(phone), phone)
	}

	invalid := []string{"", "0171234567", "01212345678", "+79991234567", "phone"}
	for _, phone := range invalid {
		assert.Error(t, ValidatePhone(phone), phone)
	}
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("Client.One+bd@Example.com"))

	for _, email := range []string{"", "no-at.example.com", "a@b@c.com", "a@localhost", "bad space@example.com"} {
		assert.Error(t, ValidateEmail(email), email)
	}
}

func TestValidatePayer(t *testing.T) {
	assert.NoError(t, ValidatePayer("", "", ""))
	assert.NoError(t, ValidatePayer("Rahim", "rahim@example.com", "01712345678"))
	assert.Error(t, ValidatePayer(strings.Repeat("x", MaxPayerNameLength+1), "", ""))
	assert.Error(t, ValidatePayer("Rahim", "rahim", ""))
	assert.Error(t, ValidatePayer("Rahim", "", "123"))
}

func TestValidateDisputeDescription(t *testing.T) {
	assert.Error(t, ValidateDisputeDescription("   "))
	assert.Error(t, ValidateDisputeDescription("коротко"))
	assert.NoError(t, ValidateDisputeDescription("специалист не подключился к звонку"))
	assert.Error(t, ValidateDisputeDescription(strings.Repeat("я", MaxDisputeDescriptionLength+1)))
}

func TestValidateNoteAndReason(t *testing.T) {
	assert.NoError(t, ValidateNote(nil))
	long := strings.Repeat("n", MaxNoteLength+1)
	assert.Error(t, ValidateNote(&long))

	assert.NoError(t, ValidateCancelReason(""))
	assert.Error(t, ValidateCancelReason(strings.Repeat("r", MaxCancelReasonLength+1)))
}
