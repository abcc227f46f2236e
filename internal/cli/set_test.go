package cli

import "testing"

func TestParseSwitch(t *testing.T) {
	cases := map[string]bool{"on": true, "ON": true, "true": true, "1": true, "off": false, " no ": false, "0": false}
	for in, want := range cases {
		got, err := parseSwitch(in)
		if err != nil {
			t.Fatalf("parseSwitch(%q) 不应报错: %v", in, err)
		}
		if got != want {
			t.Fatalf("parseSwitch(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := parseSwitch("maybe"); err == nil {
		t.Fatal("非法输入应报错")
	}
}
