package schema

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

var (
	emailRe  = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	patterns sync.Map // pattern -> *regexp.Regexp
)

// Validate returns human-readable problems with rec under s. A nil result
// means the record is valid. Empty optional fields are not checked.
func Validate(s crawler.Schema, rec crawler.Record) []string {
	var problems []string
	for _, f := range s.Fields {
		v := strings.TrimSpace(rec[f.Name])
		if v == "" {
			if !f.Type.Optional() {
				problems = append(problems, "missing required field: "+f.Name)
			}
			continue
		}
		if msg := checkType(f, v); msg != "" {
			problems = append(problems, msg)
		}
		if f.Pattern != "" {
			re := compiled(f.Pattern)
			if re == nil || !re.MatchString(v) {
				problems = append(problems, fmt.Sprintf("field %s does not match pattern", f.Name))
			}
		}
	}
	return problems
}

// ValidEmail reports whether v looks like an email address.
func ValidEmail(v string) bool {
	return emailRe.MatchString(strings.TrimSpace(v))
}

// ValidURL reports whether v is an absolute http(s) URL.
func ValidURL(v string) bool {
	u, err := url.Parse(strings.TrimSpace(v))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func checkType(f crawler.FieldSchema, v string) string {
	switch f.Type.Base() {
	case crawler.FieldEmail:
		if !ValidEmail(v) {
			return fmt.Sprintf("field %s is not a valid email", f.Name)
		}
	case crawler.FieldURL:
		if !ValidURL(v) {
			return fmt.Sprintf("field %s is not a valid url", f.Name)
		}
	case crawler.FieldInt:
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Sprintf("field %s is not an integer", f.Name)
		}
	case crawler.FieldBool:
		if _, ok := parseBool(v); !ok {
			return fmt.Sprintf("field %s is not a boolean", f.Name)
		}
	}
	return ""
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "yes", "y":
		return true, true
	case "no", "n":
		return false, true
	}
	b, err := strconv.ParseBool(v)
	return b, err == nil
}

func compiled(pattern string) *regexp.Regexp {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	patterns.Store(pattern, re)
	return re
}
