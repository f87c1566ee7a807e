package sitemap

import (
	"bytes"
	"encoding/xml"
	"io"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// sitemapURLSet is the `<urlset>` document shape: a flat list of page
// URLs.
type sitemapURLSet struct {
	XMLName xml.Name       `xml:"urlset"`
	URLs    []sitemapEntry `xml:"url"`
}

type sitemapEntry struct {
	Loc string `xml:"loc"`
}

// sitemapIndex is the `<sitemapindex>` document shape: a list of
// sub-sitemap URLs to recurse into.
type sitemapIndex struct {
	XMLName  xml.Name          `xml:"sitemapindex"`
	Sitemaps []sitemapIndexRef `xml:"sitemap"`
}

type sitemapIndexRef struct {
	Loc string `xml:"loc"`
}

// parseSitemapXML decodes either document shape, returning page URLs
// and/or sub-sitemap URLs to recurse into. Unrecognized root elements
// yield an error rather than silently returning nothing, since a
// malformed sitemap is itself diagnostic information for the caller.
func parseSitemapXML(body []byte) (urls []string, subSitemaps []string, err error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "sitemap: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	tok, err := peekRootElement(decoder)
	if err != nil {
		return nil, nil, err
	}

	switch tok {
	case "sitemapindex":
		var idx sitemapIndex
		if err := xml.Unmarshal(body, &idx); err != nil {
			return nil, nil, eris.Wrap(err, "sitemap: decode sitemapindex")
		}
		for _, s := range idx.Sitemaps {
			if s.Loc != "" {
				subSitemaps = append(subSitemaps, s.Loc)
			}
		}
		return nil, subSitemaps, nil
	case "urlset":
		var set sitemapURLSet
		if err := xml.Unmarshal(body, &set); err != nil {
			return nil, nil, eris.Wrap(err, "sitemap: decode urlset")
		}
		for _, u := range set.URLs {
			if u.Loc != "" {
				urls = append(urls, u.Loc)
			}
		}
		return urls, nil, nil
	default:
		return nil, nil, eris.Errorf("sitemap: unrecognized root element %q", tok)
	}
}

// peekRootElement returns the local name of the document's first start
// element without consuming the rest of the stream for the caller
// (xml.Unmarshal is re-run against the full body once the shape is
// known).
func peekRootElement(decoder *xml.Decoder) (string, error) {
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return "", eris.New("sitemap: empty document")
		}
		if err != nil {
			return "", eris.Wrap(err, "sitemap: read token")
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}
