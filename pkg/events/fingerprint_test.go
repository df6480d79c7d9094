package events

import (
	"encoding/json"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func testContext() EventContext {
	return EventContext{
		Address:   "1.2.3.4",
		Timestamp: "2024-01-01T00:00:00Z",
		Path:      "/log-event",
		Data:      map[string]any{"description": "test"},
	}
}

func TestFingerprintKnownValue(t *testing.T) {
	f, err := NewFingerprint(testContext())
	require.NoError(t, err)

	require.Equal(t, "ca63f7bd6b795dd4e9665a6279f89933b5779f1c9221b5de5a11990d4c564b31", f.String())
}

func TestFingerprintDeterministic(t *testing.T) {
	ctx := testContext()

	first, err := NewFingerprint(ctx)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		again, err := NewFingerprint(ctx)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestCanonicalBytesSortsNestedKeys(t *testing.T) {
	ctx := testContext()
	ctx.Data = map[string]any{
		"b": map[string]any{"d": "x", "c": []any{1, 2}},
		"a": 1.0,
	}

	canonical, err := ctx.CanonicalBytes()
	require.NoError(t, err)
	require.Equal(t, `["1.2.3.4","2024-01-01T00:00:00Z","/log-event",{"a":1,"b":{"c":[1,2],"d":"x"}}]`, string(canonical))

	f, err := NewFingerprint(ctx)
	require.NoError(t, err)
	require.Equal(t, "acb34163b45f1daf5f2a20aa5500f255cced10323949b5228c7c8fa5888f3a34", f.String())
}

func TestFingerprintIndependentOfDecodeOrder(t *testing.T) {
	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"x":1,"y":"two","z":[true,null]}`), &first))
	require.NoError(t, json.Unmarshal([]byte(`{"z":[true,null],"y":"two","x":1}`), &second))

	a := testContext()
	a.Data = first
	b := testContext()
	b.Data = second

	fa, err := NewFingerprint(a)
	require.NoError(t, err)

	fb, err := NewFingerprint(b)
	require.NoError(t, err)

	require.Equal(t, fa, fb)
}

func TestFingerprintFieldsAreNotInterchangeable(t *testing.T) {
	a := testContext()
	b := testContext()
	b.Address, b.Path = a.Path, a.Address

	fa, err := NewFingerprint(a)
	require.NoError(t, err)

	fb, err := NewFingerprint(b)
	require.NoError(t, err)

	require.NotEqual(t, fa, fb)
}

func TestMarshalUnmarshalFingerprintJSON(t *testing.T) {
	type wrapper struct {
		Fingerprint Fingerprint `json:"fingerprint"`
	}

	f, err := NewFingerprint(testContext())
	require.NoError(t, err)

	marshalled, err := json.Marshal(wrapper{f})
	require.NoError(t, err)
	require.Equal(t, `{"fingerprint":"`+f.String()+`"}`, string(marshalled))

	var w wrapper
	require.NoError(t, json.Unmarshal(marshalled, &w))
	require.Equal(t, f, w.Fingerprint)
}

func TestParseFingerprintRejectsShortInput(t *testing.T) {
	_, err := ParseFingerprint("abcd")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, testContext().Validate())

	empty := testContext()
	empty.Data = map[string]any{}
	require.NoError(t, empty.Validate())

	missing := testContext()
	missing.Data = nil

	var validationErr *ValidationError
	require.ErrorAs(t, missing.Validate(), &validationErr)
	require.Equal(t, "data", validationErr.Field)

	noAddress := testContext()
	noAddress.Address = ""
	require.ErrorAs(t, noAddress.Validate(), &validationErr)
	require.Equal(t, "address", validationErr.Field)
}

func TestNewEventContextUsesUTC(t *testing.T) {
	loc := time.FixedZone("test", 3600)
	ctx := NewEventContext("1.2.3.4", time.Date(2024, 1, 1, 1, 0, 0, 0, loc), "/log-event", map[string]any{})

	require.Equal(t, "2024-01-01T00:00:00Z", ctx.Timestamp)
}
