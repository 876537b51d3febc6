package sitemap

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html/charset"

	"sitemapaudit/internal/models"
	"sitemapaudit/internal/urlutil"
)

// nodeKind tags a fetched document as an index or a leaf sitemap.
type nodeKind int

const (
	kindLeaf nodeKind = iota
	kindIndex
)

func (k nodeKind) String() string {
	if k == kindIndex {
		return "index"
	}
	return "leaf"
}

// sitemapNode is one parsed document. It only lives until its contents have
// been merged into the resolution.
type sitemapNode struct {
	url      string
	kind     nodeKind
	children []string
	records  []models.URLRecord
}

// xmlIndexEntry is a <sitemap> entry inside a <sitemapindex>.
type xmlIndexEntry struct {
	Loc string `xml:"loc"`
}

// xmlURL is a <url> entry inside a <urlset>. Tags carry no namespace so
// entries match on local name whatever namespace the document declares.
type xmlURL struct {
	Loc        string     `xml:"loc"`
	LastMod    string     `xml:"lastmod"`
	Priority   string     `xml:"priority"`
	ChangeFreq string     `xml:"changefreq"`
	Images     []xmlImage `xml:"image"`
	Videos     []xmlVideo `xml:"video"`
	Links      []xmlLink  `xml:"link"`
}

type xmlImage struct {
	Loc string `xml:"loc"`
}

type xmlVideo struct {
	ContentLoc string `xml:"content_loc"`
	PlayerLoc  string `xml:"player_loc"`
}

type xmlLink struct {
	Rel      string `xml:"rel,attr"`
	Hreflang string `xml:"hreflang,attr"`
	Href     string `xml:"href,attr"`
}

// record converts the entry to a URLRecord. It reports false when the entry
// has no loc.
func (x *xmlURL) record() (models.URLRecord, bool) {
	loc := strings.TrimSpace(x.Loc)
	if loc == "" {
		return models.URLRecord{}, false
	}
	rec := models.URLRecord{
		URL:        loc,
		LastMod:    strings.TrimSpace(x.LastMod),
		Priority:   strings.TrimSpace(x.Priority),
		ChangeFreq: strings.TrimSpace(x.ChangeFreq),
		Images:     []string{},
		Videos:     []string{},
		Alternates: []models.Alternate{},
	}
	for _, img := range x.Images {
		if v := strings.TrimSpace(img.Loc); v != "" {
			rec.Images = append(rec.Images, v)
		}
	}
	for _, vid := range x.Videos {
		v := strings.TrimSpace(vid.ContentLoc)
		if v == "" {
			v = strings.TrimSpace(vid.PlayerLoc)
		}
		if v != "" {
			rec.Videos = append(rec.Videos, v)
		}
	}
	for _, l := range x.Links {
		href := strings.TrimSpace(l.Href)
		if href == "" {
			continue
		}
		if rel := strings.TrimSpace(l.Rel); rel != "" && !strings.EqualFold(rel, "alternate") {
			continue
		}
		rec.Alternates = append(rec.Alternates, models.Alternate{
			Href:     href,
			Hreflang: strings.TrimSpace(l.Hreflang),
		})
	}
	return rec, true
}

var (
	errNoRoot     = errors.New("document has no root element")
	errNoTextURLs = errors.New("text sitemap contains no urls")
)

// utf8BOM may precede either format.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// maxTextLineBytes bounds one line of a text sitemap. The protocol caps URLs
// at 2048 characters.
const maxTextLineBytes = 64 << 10

// newDecoder returns a forgiving decoder: real-world sitemaps routinely
// misdeclare namespaces, use HTML entities or non-UTF-8 encodings.
func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel
	return dec
}

// parseDocument streams a sitemap document. A document whose first
// significant byte is not '<' is read as a text sitemap; otherwise the root
// element decides whether it is an index or a leaf. Index locations are
// resolved against docURL.
func parseDocument(r io.Reader, docURL string) (*sitemapNode, error) {
	br := bufio.NewReader(r)
	if looksLikeText(br) {
		return parseText(br, docURL)
	}

	dec := newDecoder(br)
	var node *sitemapNode

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		if node == nil {
			switch se.Name.Local {
			case "sitemapindex":
				node = &sitemapNode{url: docURL, kind: kindIndex}
			case "urlset":
				node = &sitemapNode{url: docURL, kind: kindLeaf}
			default:
				return nil, fmt.Errorf("unexpected root element <%s>", se.Name.Local)
			}
			continue
		}

		switch {
		case node.kind == kindIndex && se.Name.Local == "sitemap":
			var entry xmlIndexEntry
			if err := dec.DecodeElement(&entry, &se); err != nil {
				return nil, fmt.Errorf("decode <sitemap>: %w", err)
			}
			if strings.TrimSpace(entry.Loc) == "" {
				continue
			}
			loc, err := urlutil.ResolveReference(docURL, entry.Loc)
			if err != nil {
				continue
			}
			node.children = append(node.children, loc)
		case node.kind == kindLeaf && se.Name.Local == "url":
			var entry xmlURL
			if err := dec.DecodeElement(&entry, &se); err != nil {
				return nil, fmt.Errorf("decode <url>: %w", err)
			}
			if rec, ok := entry.record(); ok {
				node.records = append(node.records, rec)
			}
		}
	}

	if node == nil {
		return nil, errNoRoot
	}
	return node, nil
}

// looksLikeText peeks at the start of the document without consuming it.
func looksLikeText(br *bufio.Reader) bool {
	head, _ := br.Peek(512)
	head = bytes.TrimPrefix(head, utf8BOM)
	head = bytes.TrimLeft(head, " \t\r\n")
	return len(head) > 0 && head[0] != '<'
}

// parseText reads a text sitemap: one absolute http(s) URL per line. Blank
// lines and lines that are not such URLs are skipped.
func parseText(r io.Reader, docURL string) (*sitemapNode, error) {
	node := &sitemapNode{url: docURL, kind: kindLeaf}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxTextLineBytes)
	first := true
	for sc.Scan() {
		line := sc.Bytes()
		if first {
			line = bytes.TrimPrefix(line, utf8BOM)
			first = false
		}
		loc := strings.TrimSpace(string(line))
		if loc == "" {
			continue
		}
		u, err := url.Parse(loc)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		node.records = append(node.records, models.URLRecord{
			URL:        loc,
			Images:     []string{},
			Videos:     []string{},
			Alternates: []models.Alternate{},
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read text sitemap: %w", err)
	}
	if len(node.records) == 0 {
		return nil, errNoTextURLs
	}
	return node, nil
}
