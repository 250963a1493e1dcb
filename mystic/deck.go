// Package mystic serves the entertainment readings: tarot, the daily
// horoscope and free-form fortunes, written by the language model and
// returned as display sections.
package mystic

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// Card is one major arcana card.
type Card struct {
	Number   int    `json:"number"`
	Name     string `json:"name"`
	NameKa   string `json:"nameKa"`
	Upright  string `json:"upright"`
	Reversed string `json:"reversed"`
}

// DrawnCard is a card as it fell in a spread.
type DrawnCard struct {
	Card
	Position   string `json:"position"`
	IsReversed bool   `json:"isReversed"`
}

// Meaning returns the keywords for the side the card fell on.
func (d DrawnCard) Meaning() string {
	if d.IsReversed {
		return d.Reversed
	}
	return d.Upright
}

// MajorArcana is the 22-card deck used for readings.
var MajorArcana = [22]Card{
	{0, "The Fool", "სულელი", "ახალი დასაწყისი, სპონტანურობა", "დაუდევრობა, რისკი"},
	{1, "The Magician", "მაგი", "ნება, ოსტატობა", "მანიპულაცია, გამოუყენებელი ნიჭი"},
	{2, "The High Priestess", "ქურუმი ქალი", "ინტუიცია, საიდუმლო", "ჩახშული ხმა, ზედაპირულობა"},
	{3, "The Empress", "იმპერატრიცა", "სიუხვე, ზრუნვა", "დამოკიდებულება, სიცარიელე"},
	{4, "The Emperor", "იმპერატორი", "წესრიგი, ავტორიტეტი", "სიხისტე, კონტროლი"},
	{5, "The Hierophant", "იეროფანტი", "ტრადიცია, სწავლება", "ამბოხი, ახალი გზა"},
	{6, "The Lovers", "შეყვარებულები", "სიყვარული, არჩევანი", "დისჰარმონია, ყოყმანი"},
	{7, "The Chariot", "ეტლი", "გამარჯვება, მიზანდასახულობა", "მიმართულების დაკარგვა"},
	{8, "Strength", "ძალა", "სიმამაცე, მოთმინება", "საკუთარ თავში ეჭვი"},
	{9, "The Hermit", "განდეგილი", "ჩაღრმავება, სიბრძნე", "იზოლაცია, მარტოობა"},
	{10, "Wheel of Fortune", "ბედის ბორბალი", "ცვლილება, ბედი", "უიღბლობა, წინააღმდეგობა"},
	{11, "Justice", "სამართლიანობა", "სიმართლე, ბალანსი", "უსამართლობა, თავის არიდება"},
	{12, "The Hanged Man", "ჩამოკიდებული", "პაუზა, ახალი ხედვა", "გაჭიანურება, წინააღმდეგობა"},
	{13, "Death", "სიკვდილი", "დასასრული, ტრანსფორმაცია", "ცვლილების შიში"},
	{14, "Temperance", "ზომიერება", "ჰარმონია, მოთმინება", "უკიდურესობა, დისბალანსი"},
	{15, "The Devil", "ეშმაკი", "მიჯაჭვულობა, ცდუნება", "განთავისუფლება"},
	{16, "The Tower", "კოშკი", "მოულოდნელი გარდატეხა", "თავიდან აცილებული კატასტროფა"},
	{17, "The Star", "ვარსკვლავი", "იმედი, შთაგონება", "სასოწარკვეთა"},
	{18, "The Moon", "მთვარე", "ილუზია, ქვეცნობიერი", "სიცხადე, შიშის დაძლევა"},
	{19, "The Sun", "მზე", "სიხარული, წარმატება", "დროებითი სევდა"},
	{20, "Judgement", "განკითხვა", "გამოღვიძება, გადაწყვეტილება", "თვითკრიტიკა, ეჭვი"},
	{21, "The World", "სამყარო", "დასრულება, მთლიანობა", "დაუსრულებელი საქმე"},
}

// Spread positions by card count.
var spreads = map[int][]string{
	1: {"მთავარი ბარათი"},
	3: {"წარსული", "აწმყო", "მომავალი"},
	5: {"სიტუაცია", "დაბრკოლება", "რჩევა", "ფარული გავლენა", "შედეგი"},
}

var ErrSpreadSize = errors.New("mystic: spread must have 1, 3 or 5 cards")

// randIntn returns a uniform integer in [0, n).
type randIntn func(n int) (int, error)

func cryptoIntn(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// draw deals n distinct cards with a partial Fisher-Yates shuffle; each card
// lands reversed with probability one half.
func draw(n int, intn randIntn) ([]DrawnCard, error) {
	positions, ok := spreads[n]
	if !ok {
		return nil, ErrSpreadSize
	}
	deck := MajorArcana
	out := make([]DrawnCard, n)
	for i := 0; i < n; i++ {
		j, err := intn(len(deck) - i)
		if err != nil {
			return nil, err
		}
		j += i
		deck[i], deck[j] = deck[j], deck[i]
		flip, err := intn(2)
		if err != nil {
			return nil, err
		}
		out[i] = DrawnCard{Card: deck[i], Position: positions[i], IsReversed: flip == 1}
	}
	return out, nil
}
