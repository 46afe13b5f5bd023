package session

import "testing"

func TestExtractJSONPayload(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{
			"payload between markers",
			"noise\n__MLBRIDGE_JSON_START__{\"x\":[1,2,3]}__MLBRIDGE_JSON_END__\nmore noise",
			`{"x":[1,2,3]}`,
			true,
		},
		{"missing start marker", `{"x":1}__MLBRIDGE_JSON_END__`, "", false},
		{"missing end marker", `__MLBRIDGE_JSON_START__{"x":1}`, "", false},
		{"empty payload", "__MLBRIDGE_JSON_START____MLBRIDGE_JSON_END__", "", true},
		{"no markers at all", "ans = 2", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSONPayload(tc.text)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("payload = %q, want %q", got, tc.want)
			}
		})
	}
}
