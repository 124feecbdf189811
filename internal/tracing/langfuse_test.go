package tracing

import "testing"

func TestSetup_DisabledWithoutKeys(t *testing.T) {
	for _, tc := range []struct {
		name, public, secret string
	}{
		{"no keys", "", ""},
		{"public only", "pk-lf-test", ""},
		{"secret only", "", "sk-lf-test"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("LANGFUSE_PUBLIC_KEY", tc.public)
			t.Setenv("LANGFUSE_SECRET_KEY", tc.secret)

			handler, flush, ok := Setup()
			if ok || handler != nil || flush != nil {
				t.Errorf("Setup() = %v, %v, %v; want disabled", handler, flush != nil, ok)
			}
		})
	}
}
