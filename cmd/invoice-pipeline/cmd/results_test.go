package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-pipeline/internal/model"
)

func TestBuildFilter(t *testing.T) {
	reset := func() {
		resultsType, resultsPassed, resultsInvoice, resultsSince, resultsUntil = "", "", "", "", ""
	}
	t.Cleanup(reset)

	tests := []struct {
		name    string
		setup   func()
		check   func(t *testing.T, f filterView)
		wantErr bool
	}{
		{
			name:  "empty",
			setup: func() {},
			check: func(t *testing.T, f filterView) {
				assert.Nil(t, f.typ)
				assert.Nil(t, f.passed)
			},
		},
		{
			name:  "type and passed",
			setup: func() { resultsType = "gobd"; resultsPassed = "false" },
			check: func(t *testing.T, f filterView) {
				require.NotNil(t, f.typ)
				assert.Equal(t, model.ValidationGoBD, *f.typ)
				require.NotNil(t, f.passed)
				assert.False(t, *f.passed)
			},
		},
		{
			name:  "until covers the day",
			setup: func() { resultsUntil = "2026-10-02" },
			check: func(t *testing.T, f filterView) {
				require.NotNil(t, f.end)
				assert.Equal(t, 23, f.end.Hour())
				assert.Equal(t, 2, f.end.Day())
			},
		},
		{name: "unknown type", setup: func() { resultsType = "peppol" }, wantErr: true},
		{name: "bad passed", setup: func() { resultsPassed = "maybe" }, wantErr: true},
		{name: "bad invoice", setup: func() { resultsInvoice = "order-1001" }, wantErr: true},
		{name: "bad since", setup: func() { resultsSince = "02.10.2026" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reset()
			tt.setup()
			f, err := buildFilter()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, filterView{typ: f.ValidationType, passed: f.Passed, end: f.EndDate})
		})
	}
}

type filterView struct {
	typ    *model.ValidationType
	passed *bool
	end    *time.Time
}

func TestCheckFormat(t *testing.T) {
	t.Cleanup(func() { outputFormat = "table" })

	outputFormat = "json"
	assert.NoError(t, checkFormat())
	outputFormat = "yaml"
	assert.Error(t, checkFormat())
}
