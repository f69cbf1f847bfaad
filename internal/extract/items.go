package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

// MinItemScore is the lowest score a candidate needs to count as a person item.
// It is a tuning constant.
const MinItemScore = 2

const candidateSelector = `[class*="person"], [class*="profile"], [class*="member"], [class*="card"], [class*="item"], article, [itemtype*="Person"]`

var (
	personTokens = []string{"phd", "dr.", "professor", "research"}
	itemPhoneRe  = regexp.MustCompile(`\d{3}[-.]?\d{3}[-.]?\d{4}`)
	itemNameSel  = `[itemprop="name"], h2, h3, h4, h5, h6, [class*="card-title"], [class*="name"]`
	itemTitleSel = `[itemprop="jobTitle"], [class*="title"], [class*="position"], [class*="role"]`

	// Call-to-action link texts that are never a person's name.
	genericLinkText = map[string]bool{
		"view profile": true, "full profile": true, "profile": true,
		"read more": true, "learn more": true, "more": true,
		"details": true, "view": true, "bio": true, "view bio": true,
		"more info": true, "contact": true,
	}
)

// Item is a scored candidate container.
type Item struct {
	Selection *goquery.Selection
	Score     int
}

// Score rates how person-like s looks.
func Score(s *goquery.Selection) int {
	text := strings.ToLower(s.Text())
	score := 0
	for _, token := range personTokens {
		if strings.Contains(text, token) {
			score += 2
			break
		}
	}
	if strings.Contains(text, "@") {
		score += 3
	}
	if itemPhoneRe.MatchString(text) {
		score += 2
	}
	if s.Find("img").Length() > 0 {
		score++
	}
	if s.Find(`a[href*="/profile"], a[href*="/people"]`).Length() > 0 {
		score += 3
	}
	return score
}

// DiscoverItems returns the person-like containers of a listing page. An
// explicit selector is used as-is; otherwise candidates are scored, kept at
// MinItemScore or above, pruned of list wrappers and nested fragments, and
// ordered by descending score.
func DiscoverItems(doc *goquery.Document, selector string) []Item {
	if selector != "" {
		var items []Item
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			items = append(items, Item{Selection: s, Score: Score(s)})
		})
		return items
	}

	var passing []Item
	doc.Find(candidateSelector).Each(func(_ int, s *goquery.Selection) {
		if score := Score(s); score >= MinItemScore {
			passing = append(passing, Item{Selection: s, Score: score})
		}
	})

	// A container holding two or more separate named cards is the list. Other
	// passing descendants are fragments of the card that holds them.
	cards := make([]Item, 0, len(passing))
	for _, item := range passing {
		if !isListWrapper(item, passing) {
			cards = append(cards, item)
		}
	}

	kept := make([]Item, 0, len(cards))
	for _, item := range cards {
		if !insideAny(item, cards) {
			kept = append(kept, item)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})
	return kept
}

// isListWrapper counts the outermost named candidates inside item.
func isListWrapper(item Item, passing []Item) bool {
	var named []Item
	for _, other := range passing {
		if other.Selection.Get(0) == item.Selection.Get(0) || !item.Selection.Contains(other.Selection.Get(0)) {
			continue
		}
		if itemName(other.Selection) != "" {
			named = append(named, other)
		}
	}
	outer := 0
	for _, n := range named {
		if !insideAny(n, named) {
			outer++
		}
	}
	return outer >= 2
}

func insideAny(item Item, items []Item) bool {
	node := item.Selection.Get(0)
	for _, other := range items {
		if other.Selection.Get(0) != node && other.Selection.Contains(node) {
			return true
		}
	}
	return false
}

// FromItem builds a partial record from one listing card. profileSelector,
// when set, locates the card's profile link.
func FromItem(item *goquery.Selection, pageURL, profileSelector string) crawler.Record {
	rec := crawler.Record{}

	if name := itemName(item); name != "" {
		rec["name"] = name
	}

	if email := mailto(item); email != "" {
		rec["email"] = email
	} else if email := preferredEmail(Emails(item.Text())); email != "" {
		rec["email"] = email
	}

	if phone := tel(item); phone != "" {
		rec["phone"] = phone
	} else if phones := Phones(item.Text()); len(phones) > 0 {
		rec["phone"] = strings.TrimSpace(phones[0])
	}

	item.Find(itemTitleSel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title := CleanText(s.Text())
		if title == "" || runeLen(title) >= 200 || strings.EqualFold(title, rec["name"]) {
			return true
		}
		rec["title"] = title
		return false
	})

	if link := profileLink(item, pageURL, profileSelector); link != "" {
		rec["page_url"] = link
	} else {
		rec["page_url"] = ""
	}
	return rec
}

func itemName(item *goquery.Selection) string {
	if name := itemHeading(item); name != "" {
		return name
	}
	var name string
	item.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := strings.ToLower(attr(s, "href"))
		if strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return true
		}
		text := CleanText(s.Text())
		if genericLinkText[strings.ToLower(strings.TrimRight(text, ".:»› "))] {
			return true
		}
		name = acceptName(text)
		return name == ""
	})
	return name
}

// itemHeading returns the first acceptable name node text of item.
func itemHeading(item *goquery.Selection) string {
	var name string
	item.Find(itemNameSel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name = acceptName(CleanText(s.Text()))
		return name == ""
	})
	return name
}

func profileLink(item *goquery.Selection, pageURL, selector string) string {
	var link string
	candidates := item.Find("a[href]")
	if selector != "" {
		candidates = item.Find(selector)
		if item.Is(selector) {
			candidates = candidates.AddSelection(item)
		}
	}
	candidates.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if selector == "" && !detailHrefRe.MatchString(href) {
			return true
		}
		link = crawler.ResolveURL(pageURL, href)
		return link == ""
	})
	return link
}
