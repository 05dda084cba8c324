package kite

import "testing"

func TestLoginURL(t *testing.T) {
	got := LoginURL("demo_key")
	want := "https://kite.zerodha.com/connect/login?api_key=demo_key&v=3"
	if got != want {
		t.Fatalf("login url mismatch: %s != %s", got, want)
	}
}

func TestCallbackURLForUserTemplate(t *testing.T) {
	got := CallbackURLForUser("https://example.com/cb/{userid}", "AB1234")
	want := "https://example.com/cb/AB1234"
	if got != want {
		t.Fatalf("callback url mismatch: %s != %s", got, want)
	}

	got = CallbackURLForUser("https://example.com/cb?u={user_id}", "AB1234")
	want = "https://example.com/cb?u=AB1234"
	if got != want {
		t.Fatalf("callback url mismatch: %s != %s", got, want)
	}
}

func TestCallbackURLForUserAppendsQuery(t *testing.T) {
	got := CallbackURLForUser("https://example.com/cb", "AB1234")
	want := "https://example.com/cb?user_id=AB1234"
	if got != want {
		t.Fatalf("callback url mismatch: %s != %s", got, want)
	}

	got = CallbackURLForUser("https://example.com/cb?src=kite", "AB1234")
	want = "https://example.com/cb?src=kite&user_id=AB1234"
	if got != want {
		t.Fatalf("callback url mismatch: %s != %s", got, want)
	}
}

func TestCallbackURLForUserRelativeBase(t *testing.T) {
	got := CallbackURLForUser("/callback", "AB1234")
	want := "/callback?user_id=AB1234"
	if got != want {
		t.Fatalf("callback url mismatch: %s != %s", got, want)
	}

	got = CallbackURLForUser("/callback?x=1", "AB1234")
	want = "/callback?x=1&user_id=AB1234"
	if got != want {
		t.Fatalf("callback url mismatch: %s != %s", got, want)
	}
}

func TestChecksum(t *testing.T) {
	got := checksum("demo_key", "req_token_123", "demo_secret")
	want := "d2571af293628564fbeeeb9d8c4543a99337d2327b9241f8204cbaaf2b3d4137"
	if got != want {
		t.Fatalf("checksum mismatch: %s != %s", got, want)
	}
}
