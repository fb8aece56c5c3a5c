package observability

import "testing"

func TestParseHeaders(t *testing.T) {
	got := parseHeaders(" api-key=abc , bad, =x, y= ,team=assets")
	if len(got) != 2 || got["api-key"] != "abc" || got["team"] != "assets" {
		t.Fatalf("parseHeaders: got=%v", got)
	}
	if parseHeaders("") != nil {
		t.Fatal("empty should be nil")
	}
}

func TestClampRatio(t *testing.T) {
	if clampRatio(-1) != 0 || clampRatio(2) != 1 || clampRatio(0.25) != 0.25 {
		t.Fatal("clampRatio bounds")
	}
}
