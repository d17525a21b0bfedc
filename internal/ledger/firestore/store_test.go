package firestore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/budgetflow/internal/ledger"
)

func TestDocID(t *testing.T) {
	tests := []struct {
		name     string
		customer string
		want     string
	}{
		{name: "plain", customer: "acme", want: "acme_abc_success"},
		{name: "slash escaped", customer: "acme/uk", want: "acme%2Fuk_abc_success"},
		{name: "space escaped", customer: "Acme Ltd", want: "Acme%20Ltd_abc_success"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := docID(tt.customer, "abc", ledger.OutcomeSuccess)
			assert.Equal(t, tt.want, got)
			assert.False(t, strings.Contains(got, "/"))
		})
	}
}

func TestDocID_OutcomesDistinct(t *testing.T) {
	assert.NotEqual(t,
		docID("acme", "abc", ledger.OutcomeSuccess),
		docID("acme", "abc", ledger.OutcomeFailed))
}
