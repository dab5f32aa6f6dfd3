package marketplace

import (
	"errors"
	"math/rand/v2"
	"testing"
)

func TestOzonParse(t *testing.T) {
	cases := []struct {
		in      string
		ok      bool
		article string
		size    string
	}{
		{"3035090018/658", true, "3035090018", "658"},
		{"2089090018-14/11", true, "2089090018-14", "11"},
		{"3009030003/M", true, "3009030003", "M"},
		{"  3009030003/6.5 ", true, "3009030003", "6.5"},
		{"3009030003/6,5", true, "3009030003", "6,5"},
		{"-3009030003/M", false, "", ""},
		{"3009030003", false, "", ""},
		{"3009030003/", false, "", ""},
		{"30090/03/M", false, "", ""},
		{"abc/M", false, "", ""},
		{"3009030003/M L", false, "", ""},
		{"", false, "", ""},
	}

	p := Ozon()
	for _, c := range cases {
		got, ok := p.Parse(c.in)
		if ok != c.ok {
			t.Errorf("Parse(%q): ok=%v, want %v", c.in, ok, c.ok)
			continue
		}
		if !ok {
			continue
		}
		if got.Article != c.article || got.Size != c.size || !got.HasSize {
			t.Errorf("Parse(%q): got %+v, want article=%q size=%q", c.in, got, c.article, c.size)
		}
	}
}

func TestWildberriesParse(t *testing.T) {
	p := Wildberries()

	got, ok := p.Parse("2013060166-1")
	if !ok {
		t.Fatal("Parse(2013060166-1): not recognised")
	}
	if got.Article != "2013060166-1" || got.HasSize || got.Size != "" {
		t.Errorf("Parse: got %+v", got)
	}
	if n := p.Normalize(got.Article); n != "2013060166" {
		t.Errorf("Normalize: got %q, want %q", n, "2013060166")
	}

	for _, in := range []string{"2013040628", "2013070222-2", "1234567"} {
		if _, ok := p.Parse(in); !ok {
			t.Errorf("Parse(%q): want ok", in)
		}
	}
	for _, in := range []string{"123456", "2013060166-", "2013060166/1", "x2013060166", "2013060166-1-2"} {
		if _, ok := p.Parse(in); ok {
			t.Errorf("Parse(%q): want not ok", in)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Ozon().Normalize("2089090018-14"); got != "2089090018-14" {
		t.Errorf("ozon Normalize: got %q, want identity", got)
	}
	if got := Wildberries().Normalize("2013040628"); got != "2013040628" {
		t.Errorf("wb Normalize without suffix: got %q", got)
	}
}

func TestKnownKeys(t *testing.T) {
	keys := Wildberries().KnownKeys("2013060166-1")
	if len(keys) != 2 || keys[0] != "2013060166" || keys[1] != "2013060166-1" {
		t.Errorf("wb KnownKeys: got %v", keys)
	}
	if keys := Wildberries().KnownKeys("2013060166"); len(keys) != 1 {
		t.Errorf("wb KnownKeys without suffix: got %v", keys)
	}
	if keys := Ozon().KnownKeys("3035090018"); len(keys) != 1 || keys[0] != "3035090018" {
		t.Errorf("ozon KnownKeys: got %v", keys)
	}
}

func TestParsePureOnRandomInput(t *testing.T) {
	const alphabet = "0123456789-/.,abcMXL _"
	rng := rand.New(rand.NewPCG(1, 2))

	for _, p := range []Profile{Ozon(), Wildberries()} {
		for i := 0; i < 5000; i++ {
			n := rng.IntN(20)
			b := make([]byte, n)
			for j := range b {
				b[j] = alphabet[rng.IntN(len(alphabet))]
			}
			s := string(b)

			first, ok1 := p.Parse(s)
			second, ok2 := p.Parse(s)
			if ok1 != ok2 || first != second {
				t.Fatalf("%s Parse(%q) not deterministic", p.ID(), s)
			}
			if ok1 && !p.Pattern().MatchString(first.Full) {
				t.Fatalf("%s Parse(%q) accepted text outside the pattern", p.ID(), s)
			}
		}
	}
}

func TestDetect(t *testing.T) {
	cases := map[string]ID{
		"ozon.ru":               OZON,
		"www.ozon.ru":           OZON,
		"seller.ozon.ru:443":    OZON,
		"WWW.WILDBERRIES.RU":    WB,
		"global.wildberries.ru": WB,
	}
	for host, want := range cases {
		p := Detect(host)
		if p == nil {
			t.Errorf("Detect(%q): got nil, want %s", host, want)
			continue
		}
		if p.ID() != want {
			t.Errorf("Detect(%q): got %s, want %s", host, p.ID(), want)
		}
	}

	for _, host := range []string{"example.com", "notozon.ru", "ozon.ru.evil.com", ""} {
		if p := Detect(host); p != nil {
			t.Errorf("Detect(%q): got %s, want nil", host, p.ID())
		}
	}
}

func TestByID(t *testing.T) {
	if p, err := ByID("WB"); err != nil || p.ID() != WB {
		t.Errorf("ByID(WB): got %v, %v", p, err)
	}
	if _, err := ByID("amazon"); !errors.Is(err, ErrUnknownMarketplace) {
		t.Errorf("ByID(amazon): got %v, want ErrUnknownMarketplace", err)
	}
}
