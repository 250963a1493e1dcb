package content

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n\t\n"} {
		got := Parse(in)
		if got == nil {
			t.Fatalf("Parse(%q) returned nil, want empty slice", in)
		}
		if len(got) != 0 {
			t.Fatalf("Parse(%q) = %v, want no sections", in, got)
		}
	}
}

func TestParse_EmptyMarshalsAsArray(t *testing.T) {
	b, err := json.Marshal(Parse(""))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "[]" {
		t.Fatalf("json: got %s, want []", b)
	}
}

func TestParse_WarningWithBoldTitle(t *testing.T) {
	got := Parse("🔴 **გაფრთხილება**: ეს საშიშია")
	want := []Section{{Type: TypeWarning, Icon: "AlertTriangle", Title: "გაფრთხილება", Content: "ეს საშიშია"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_PlainTextIsIntro(t *testing.T) {
	got := Parse("უბრალო ტექსტი")
	want := []Section{{Type: TypeIntro, Content: "უბრალო ტექსტი"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_EmojiTitleSplit(t *testing.T) {
	tests := []struct {
		line      string
		wantType  SectionType
		wantTitle string
	}{
		{"💡 **Title**: body text", TypeTip, "Title"},
		{"📊 **Title:** body text", TypeFact, "Title"},
		{"😏 **Title** — body text", TypeSarcasm, "Title"},
		{"👉 **Title** body text", TypeCTA, "Title"},
		{"⚠️ **Title**: body text", TypeWarning, "Title"},
	}
	for _, tt := range tests {
		got := Parse(tt.line)
		if len(got) != 1 {
			t.Fatalf("Parse(%q): got %d sections", tt.line, len(got))
		}
		s := got[0]
		if s.Type != tt.wantType {
			t.Errorf("Parse(%q).Type = %q, want %q", tt.line, s.Type, tt.wantType)
		}
		if s.Title != tt.wantTitle {
			t.Errorf("Parse(%q).Title = %q, want %q", tt.line, s.Title, tt.wantTitle)
		}
		if !strings.HasPrefix(s.Content, "body") {
			t.Errorf("Parse(%q).Content = %q, want prefix %q", tt.line, s.Content, "body")
		}
	}
}

func TestParse_EmojiWithoutTitle(t *testing.T) {
	got := Parse("💡 გამოიყენე **ორი** ფაქტორი")
	want := []Section{{Type: TypeTip, Icon: "Lightbulb", Content: "გამოიყენე ორი ფაქტორი"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_UnmappedEmojiFallsBack(t *testing.T) {
	got := Parse("🦄 **ერთრქა**: იშვიათი ცხოველი")
	if len(got) != 1 {
		t.Fatalf("got %d sections", len(got))
	}
	if got[0].Type != TypeSection || got[0].Icon != DefaultIcon {
		t.Fatalf("unmapped emoji: got type=%q icon=%q", got[0].Type, got[0].Icon)
	}
}

func TestParse_HashtagsStandalone(t *testing.T) {
	in := "შესავალი ტექსტი\n#ai #ტექნოლოგია\nგაგრძელება"
	got := Parse(in)
	want := []Section{
		{Type: TypeIntro, Content: "შესავალი ტექსტი"},
		{Type: TypeHashtags, Icon: "Hash", Content: "#ai #ტექნოლოგია"},
		// A hashtag line closes the current section, so the prose after
		// it opens a new intro.
		{Type: TypeIntro, Content: "გაგრძელება"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_ProseAfterLeadingHashtags(t *testing.T) {
	got := Parse("#ai #tech\nუბრალო ტექსტი")
	want := []Section{
		{Type: TypeHashtags, Icon: "Hash", Content: "#ai #tech"},
		{Type: TypeIntro, Content: "უბრალო ტექსტი"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_HeadingWithoutBody(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Section
	}{
		{
			name: "titles the next emoji section",
			in:   "## რჩევები\n💡 გამოიყენე AI ყოველდღე",
			want: []Section{
				{Type: TypeTip, Icon: "Lightbulb", Title: "რჩევები", Content: "გამოიყენე AI ყოველდღე"},
			},
		},
		{
			name: "blank lines do not count as body",
			in:   "## რჩევები\n\n\n💡 გამოიყენე AI",
			want: []Section{
				{Type: TypeTip, Icon: "Lightbulb", Title: "რჩევები", Content: "გამოიყენე AI"},
			},
		},
		{
			name: "kept when the next section has its own title",
			in:   "## ნაწილი 1\n## შესავალი\nტექსტი",
			want: []Section{
				{Type: TypeSection, Content: "ნაწილი 1"},
				{Type: TypeSection, Title: "შესავალი", Content: "ტექსტი"},
			},
		},
		{
			name: "kept before hashtags",
			in:   "ტექსტი\n## დასასრული\n#ai #tech",
			want: []Section{
				{Type: TypeIntro, Content: "ტექსტი"},
				{Type: TypeSection, Content: "დასასრული"},
				{Type: TypeHashtags, Icon: "Hash", Content: "#ai #tech"},
			},
		},
		{
			name: "kept at end of input",
			in:   "ტექსტი\n## **ბოლო**",
			want: []Section{
				{Type: TypeIntro, Content: "ტექსტი"},
				{Type: TypeSection, Content: "ბოლო"},
			},
		},
		{
			name: "emoji section without body is not a heading",
			in:   "💡 **რჩევა**:\n🚀 **მოქმედება**: სცადე დღესვე",
			want: []Section{
				{Type: TypeCTA, Icon: "Rocket", Title: "მოქმედება", Content: "სცადე დღესვე"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Parse(tt.in)); diff != "" {
				t.Fatalf("sections mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_HeadingIsNotHashtag(t *testing.T) {
	got := Parse("## სათაური #1 #2\nტექსტი")
	if len(got) != 1 {
		t.Fatalf("got %d sections: %v", len(got), got)
	}
	if got[0].Type == TypeHashtags {
		t.Fatal("markdown heading must not become a hashtag section")
	}
	if got[0].Title != "სათაური #1 #2" || got[0].Content != "ტექსტი" {
		t.Fatalf("heading section: %+v", got[0])
	}
}

func TestParse_SingleHashIsProse(t *testing.T) {
	got := Parse("#მხოლოდერთი")
	if len(got) != 1 || got[0].Type != TypeIntro {
		t.Fatalf("single hashtag line: %+v", got)
	}
}

func TestParse_Opinion(t *testing.T) {
	in := "შესავალი\nჩემი აზრით, ეს კარგი იდეაა.\nდამატებითი ხაზი"
	got := Parse(in)
	want := []Section{
		{Type: TypeIntro, Content: "შესავალი"},
		{Type: TypeOpinion, Icon: "MessageSquareQuote", Content: "ჩემი აზრით, ეს კარგი იდეაა.\nდამატებითი ხაზი"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_ParagraphBreaks(t *testing.T) {
	got := Parse("პირველი\n\n\n\nმეორე\nმესამე")
	want := []Section{{Type: TypeIntro, Content: "პირველი\n\nმეორე\nმესამე"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_DropsEmptySections(t *testing.T) {
	in := "🔥\n\n💡 **მხოლოდ სათაური**\n📌 შინაარსი"
	got := Parse(in)
	for _, s := range got {
		if strings.TrimSpace(s.Content) == "" {
			t.Fatalf("empty section emitted: %+v", s)
		}
	}
	if len(got) != 1 || got[0].Content != "შინაარსი" {
		t.Fatalf("got %+v", got)
	}
}

func TestParse_DocumentOrder(t *testing.T) {
	in := strings.Join([]string{
		"AI ახალი ამბები",
		"🔴 **ყურადღება**: ფრთხილად",
		"😏 რა თქმა უნდა, რობოტები ყველაფერს გააკეთებენ",
		"💬 ავტორის შენიშვნა",
		"👉 გამოიწერე არხი",
		"#AI #GeorgianTech",
	}, "\n")
	got := Parse(in)
	var types []SectionType
	for _, s := range got {
		types = append(types, s.Type)
	}
	want := []SectionType{TypeIntro, TypeWarning, TypeSarcasm, TypeAuthorComment, TypeCTA, TypeHashtags}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Fatalf("type order mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_CRLF(t *testing.T) {
	got := Parse("ხაზი ერთი\r\nხაზი ორი")
	if len(got) != 1 || got[0].Content != "ხაზი ერთი\nხაზი ორი" {
		t.Fatalf("CRLF input: %+v", got)
	}
}

func TestParse_NoEmptyContentProperty(t *testing.T) {
	inputs := []string{
		"🔴\n\n😏\n#a #b\n\n",
		"**\n**\n💡 ****",
		"## \n### სათაური\n",
		"\n\n🚀 **CTA**:\n\n\nტექსტი",
		"ჩემი აზრით\n\n",
		"🇬🇪 საქართველო\n👨‍💻 დეველოპერი",
	}
	for _, in := range inputs {
		for _, s := range Parse(in) {
			if strings.TrimSpace(s.Content) == "" {
				t.Errorf("Parse(%q) produced empty section %+v", in, s)
			}
		}
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct{ in, want string }{
		{"**სათაური**", "სათაური"},
		{"ტექსტი **მუქი** და **კიდევ**", "ტექსტი მუქი და კიდევ"},
		{"უკვე სუფთა", "უკვე სუფთა"},
		{"  spaced  ", "  spaced  "},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanTitle(tt.in); got != tt.want {
			t.Errorf("CleanTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanTitle_Idempotent(t *testing.T) {
	for _, in := range []string{"**a** b", "plain", "**x**", "* single *"} {
		once := CleanTitle(in)
		if twice := CleanTitle(once); twice != once {
			t.Errorf("CleanTitle not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		emoji    string
		wantType SectionType
		wantIcon string
	}{
		{"🔴", TypeWarning, "AlertTriangle"},
		{"⚠️", TypeWarning, "AlertTriangle"},
		{"⚠", TypeWarning, "AlertTriangle"},
		{"🔴🔴", TypeWarning, "AlertTriangle"},
		{"💬", TypeAuthorComment, "MessageCircle"},
		{"🦄", TypeSection, DefaultIcon},
	}
	for _, tt := range tests {
		typ, icon := Classify(tt.emoji)
		if typ != tt.wantType || icon != tt.wantIcon {
			t.Errorf("Classify(%q) = (%q, %q), want (%q, %q)", tt.emoji, typ, icon, tt.wantType, tt.wantIcon)
		}
	}
}
