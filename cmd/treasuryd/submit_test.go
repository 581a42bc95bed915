package main

import "testing"

func TestServerURL(t *testing.T) {
	cases := map[string]string{
		":8080":               "http://127.0.0.1:8080",
		"0.0.0.0:9000":        "http://0.0.0.0:9000",
		"https://ops.example": "https://ops.example",
		" localhost:1 ":       "http://localhost:1",
	}
	for in, want := range cases {
		if got := serverURL(in); got != want {
			t.Fatalf("serverURL(%q) = %q, want %q", in, got, want)
		}
	}
}
