package mystic

import (
	"errors"
	"strings"
	"time"
)

var ErrUnknownSign = errors.New("mystic: unknown zodiac sign")

// Sign is a zodiac sign. From and To are month/day bounds, inclusive.
type Sign struct {
	Key     string `json:"key"`
	NameKa  string `json:"nameKa"`
	Symbol  string `json:"symbol"`
	Element string `json:"element"`
	From    [2]int `json:"from"`
	To      [2]int `json:"to"`
}

// Signs lists the zodiac in calendar order, starting with Aries.
var Signs = []Sign{
	{"aries", "ვერძი", "♈", "ცეცხლი", [2]int{3, 21}, [2]int{4, 19}},
	{"taurus", "კურო", "♉", "მიწა", [2]int{4, 20}, [2]int{5, 20}},
	{"gemini", "ტყუპები", "♊", "ჰაერი", [2]int{5, 21}, [2]int{6, 20}},
	{"cancer", "კირჩხიბი", "♋", "წყალი", [2]int{6, 21}, [2]int{7, 22}},
	{"leo", "ლომი", "♌", "ცეცხლი", [2]int{7, 23}, [2]int{8, 22}},
	{"virgo", "ქალწული", "♍", "მიწა", [2]int{8, 23}, [2]int{9, 22}},
	{"libra", "სასწორი", "♎", "ჰაერი", [2]int{9, 23}, [2]int{10, 22}},
	{"scorpio", "მორიელი", "♏", "წყალი", [2]int{10, 23}, [2]int{11, 21}},
	{"sagittarius", "მშვილდოსანი", "♐", "ცეცხლი", [2]int{11, 22}, [2]int{12, 21}},
	{"capricorn", "თხის რქა", "♑", "მიწა", [2]int{12, 22}, [2]int{1, 19}},
	{"aquarius", "მერწყული", "♒", "ჰაერი", [2]int{1, 20}, [2]int{2, 18}},
	{"pisces", "თევზები", "♓", "წყალი", [2]int{2, 19}, [2]int{3, 20}},
}

// LookupSign finds a sign by its English key or Georgian name.
func LookupSign(name string) (Sign, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range Signs {
		if s.Key == name || s.NameKa == name {
			return s, nil
		}
	}
	return Sign{}, ErrUnknownSign
}

// SignFor returns the sign of a birth date.
func SignFor(t time.Time) Sign {
	md := int(t.Month())*100 + t.Day()
	for _, s := range Signs {
		from := s.From[0]*100 + s.From[1]
		to := s.To[0]*100 + s.To[1]
		if from <= to {
			if md >= from && md <= to {
				return s
			}
		} else if md >= from || md <= to {
			return s
		}
	}
	return Signs[0]
}
