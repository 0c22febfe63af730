// Package fakes provides test doubles for punlock's vault backends, the SDK
// clients they wrap, the OS keyring and the terminal prompt.
//
// Fakes are manually implemented (not generated) so tests can script exact
// sequences: three rejected passwords then a good one, an item that only
// fails for one id, a keyring that is unavailable.
//
// Usage:
//
//	backend := fakes.NewFakeBackend("bitwarden-cli").
//	    WithLogins(fakes.Reject("bad password"), fakes.Accept("token-1")).
//	    WithItem("item-1", `{"login":{"password":"hunter2"}}`)
//	prompter := fakes.NewFakePrompter("wrong", "right")
package fakes
