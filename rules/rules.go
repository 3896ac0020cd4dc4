//go:build ruleguard

// Package gorules contains project lint rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo flags the Add/Done goroutine pattern that wg.Go replaces.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("Use $wg.Go(func() { ... }) instead of go func() { defer $wg.Done(); ... }()").
		Suggest("$wg.Go(func() { $*_ })")

	m.Match(`$wg.Add(1)`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("Consider using $wg.Go() which calls Add(1) automatically")
}

// StdLog flags the standard library logger outside of main. Services log
// through internal/logger so records carry the module and trace id.
func StdLog(m dsl.Matcher) {
	m.Import("log")
	m.Match(`log.Print($*_)`, `log.Printf($*_)`, `log.Println($*_)`,
		`log.Fatal($*_)`, `log.Fatalf($*_)`, `log.Fatalln($*_)`).
		Where(!m.File().PkgPath.Matches(`^github\.com/kinga-app/kinga$`)).
		Report("Use internal/logger instead of the standard log package")
}

// TimeSince prefers the dedicated helpers over manual subtraction.
func TimeSince(m dsl.Matcher) {
	m.Match(`time.Now().Sub($t)`).
		Suggest(`time.Since($t)`).
		Report(`use time.Since($t)`)

	m.Match(`$t.Sub(time.Now())`).
		Suggest(`time.Until($t)`).
		Report(`use time.Until($t)`)
}

// TimeLayouts prefers the named layout constants.
func TimeLayouts(m dsl.Matcher) {
	m.Match(`$t.Format("2006-01-02 15:04:05")`).
		Suggest(`$t.Format(time.DateTime)`).
		Report(`use time.DateTime`)

	m.Match(`$t.Format("2006-01-02")`).
		Suggest(`$t.Format(time.DateOnly)`).
		Report(`use time.DateOnly`)
}

// PasswordCompare keeps bcrypt hash checks on the constant time path.
func PasswordCompare(m dsl.Matcher) {
	m.Match(`$a.PasswordHash == $b`, `$b == $a.PasswordHash`).
		Report("compare password hashes with bcrypt.CompareHashAndPassword")
}
