// Copyright (c) 2021 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package version

import "testing"

// TestSemVerParsing ensures parsing a semantic version string works as
// expected.
func TestSemVerParsing(t *testing.T) {
	tests := []struct {
		ver     string // semantic version string to parse
		want    semVer // expected components
		invalid bool   // expected error
	}{
		{ver: "0.0.4", want: semVer{patch: 4}},
		{ver: "10.20.30", want: semVer{major: 10, minor: 20, patch: 30}},
		{ver: "1.1.2-prerelease+meta", want: semVer{major: 1, minor: 1,
			patch: 2, pre: "prerelease", build: "meta"}},
		{ver: "1.0.0-alpha.beta.1", want: semVer{major: 1, pre: "alpha.beta.1"}},
		{ver: "1.0.0+0.build.1-rc.10000aaa-kk-0.1", want: semVer{major: 1,
			build: "0.build.1-rc.10000aaa-kk-0.1"}},
		{ver: "0.1.0-pre", want: semVer{minor: 1, pre: "pre"}},
		{ver: "1", invalid: true},
		{ver: "1.2", invalid: true},
		{ver: "01.1.1", invalid: true},
		{ver: "1.2.3-0123", invalid: true},
		{ver: "1.2.3+meta..bad", invalid: true},
		{ver: "+invalid", invalid: true},
		{ver: "99999999999999999999999.999999999999999999.99999999999999999",
			invalid: true},
	}

	for _, test := range tests {
		got, err := parseSemVer(test.ver)
		if test.invalid {
			if err == nil {
				t.Errorf("%q: did not receive expected error", test.ver)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", test.ver, err)
			continue
		}
		if got != test.want {
			t.Errorf("%q: mismatched components: got %+v, want %+v",
				test.ver, got, test.want)
		}
	}
}

// TestNormalizeString ensures characters outside of the semantic version
// alphabet are stripped.
func TestNormalizeString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"go1.23.1", "go1.23.1"},
		{"abc_def/ghi", "abcdefghi"},
		{"+meta", "meta"},
		{"", ""},
	}
	for _, test := range tests {
		if got := NormalizeString(test.in); got != test.want {
			t.Errorf("%q: got %q, want %q", test.in, got, test.want)
		}
	}
}
