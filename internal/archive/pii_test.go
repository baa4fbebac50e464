package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashPhone(t *testing.T) {
	h1 := HashPhone("5511912345678")
	h2 := HashPhone("5511912345678")
	h3 := HashPhone("5521988887777")

	assert.Equal(t, h1, h2, "same input should produce same hash")
	assert.NotEqual(t, h1, h3, "different input should produce different hash")
	assert.Len(t, h1, 64, "SHA-256 hex should be 64 chars")
	assert.Empty(t, HashPhone(""))
}

func TestScrubPII(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"email", "meu email é joao@example.com.br ok", "meu email é [EMAIL] ok"},
		{"mobile with area code", "liga no (11) 91234-5678", "liga no [PHONE]"},
		{"international", "meu número é +55 21 98888-7777", "meu número é [PHONE]"},
		{"cpf", "cpf 123.456.789-09", "cpf [CPF]"},
		{"no pii", "quero agendar uma visita", "quero agendar uma visita"},
		{"name kept", "meu nome é Ana Souza", "meu nome é Ana Souza"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ScrubPII(tt.input))
		})
	}
}

func TestScrubMessages(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "meu email é teste@teste.com"},
		{Role: "assistant", Content: "Anotado!"},
	}
	ScrubMessages(msgs)
	assert.Equal(t, "meu email é [EMAIL]", msgs[0].Content)
	assert.Equal(t, "Anotado!", msgs[1].Content)
}
