package assets

import "testing"

func TestPublicURL(t *testing.T) {
	b, err := NewURLBuilder("https://cdn.example.com/storefront/")
	if err != nil {
		t.Fatalf("NewURLBuilder returned error: %v", err)
	}

	cases := map[string]string{
		"beats/night drive.mp3":           "https://cdn.example.com/storefront/beats/night%20drive.mp3",
		"/stems/night.zip":                "https://cdn.example.com/storefront/stems/night.zip",
		"":                                "",
		"https://other.example.com/x.wav": "https://other.example.com/x.wav",
	}
	for ref, want := range cases {
		if got := b.PublicURL(ref); got != want {
			t.Fatalf("PublicURL(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestNewURLBuilderRejectsRelative(t *testing.T) {
	for _, base := range []string{"", "cdn.example.com", "ftp://cdn.example.com"} {
		if _, err := NewURLBuilder(base); err == nil {
			t.Fatalf("expected error for base %q", base)
		}
	}
}

func TestFileName(t *testing.T) {
	if got := FileName("beats/night/Night Drive.wav"); got != "Night Drive.wav" {
		t.Fatalf("unexpected file name %q", got)
	}
	if got := FileName("https://cdn.example.com/a/b.zip?sig=1"); got != "b.zip" {
		t.Fatalf("unexpected file name %q", got)
	}
}
