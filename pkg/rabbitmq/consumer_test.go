package rabbitmq

import "testing"

func TestTopicMatch(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"transaction.deposit", "transaction.deposit", true},
		{"transaction.deposit", "transaction.withdrawal", false},
		{"transaction.*", "transaction.deposit", true},
		{"transaction.*", "transaction.transfer_out", true},
		{"transaction.*", "account.status_changed", false},
		{"transaction.*", "transaction.deposit.extra", false},
		{"transaction.#", "transaction.deposit.extra", true},
		{"transaction.#", "transaction", true},
		{"#", "anything.at.all", true},
		{"*.status_changed", "account.status_changed", true},
		{"*.status_changed", "status_changed", false},
	}

	for _, tc := range cases {
		if got := topicMatch(tc.pattern, tc.key); got != tc.want {
			t.Fatalf("topicMatch(%q, %q) = %v, want %v", tc.pattern, tc.key, got, tc.want)
		}
	}
}

func TestMatchHandlerPrefersExactBinding(t *testing.T) {
	exact := false
	wildcard := false
	bindings := map[string]Handler{
		"transaction.deposit": func([]byte) bool { exact = true; return true },
		"transaction.*":       func([]byte) bool { wildcard = true; return true },
	}
	patterns := []string{"transaction.deposit", "transaction.*"}

	handler := matchHandler(bindings, patterns, "transaction.deposit")
	if handler == nil {
		t.Fatal("no handler matched")
	}
	handler(nil)
	if !exact || wildcard {
		t.Fatal("exact binding must win over the wildcard")
	}
}
