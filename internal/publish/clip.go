package publish

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Feed is one new render to insert into a Flame open-clip file: the
// frame-sequence path in linux form plus the display name Flame shows
// in its version dropdown.
type Feed struct {
	Path string
	Name string

	// CreatedAt stamps the inserted <version>; zero means now.
	CreatedAt time.Time
}

// clipNode is a generic XML tree. Open-clip files carry far more
// structure than we care about (storage formats, timecodes, gateway
// ids), so everything is preserved verbatim and we only splice in the
// new <feed> and <version> elements.
type clipNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr  `xml:",any,attr"`
	Content  string      `xml:",chardata"`
	Children []*clipNode `xml:",any"`
}

func (n *clipNode) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (n *clipNode) child(name string) *clipNode {
	for _, c := range n.Children {
		if c.XMLName.Local == name {
			return c
		}
	}
	return nil
}

// findVideoTrack walks the tree for the first <track uid="video">.
func findVideoTrack(n *clipNode) *clipNode {
	if n.XMLName.Local == "track" && n.attr("uid") == "video" {
		return n
	}
	for _, c := range n.Children {
		if found := findVideoTrack(c); found != nil {
			return found
		}
	}
	return nil
}

func findVersions(n *clipNode) *clipNode {
	if n.XMLName.Local == "versions" {
		return n
	}
	for _, c := range n.Children {
		if found := findVersions(c); found != nil {
			return found
		}
	}
	return nil
}

func elem(name string, attrs ...xml.Attr) *clipNode {
	return &clipNode{XMLName: xml.Name{Local: name}, Attrs: attrs}
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

// UpdateClip inserts a new feed and matching version entry into the
// Flame open-clip file at path. The original file is kept as a
// timestamped .bak_ sibling before rewriting.
func UpdateClip(path string, feed Feed) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read clip file: %w", err)
	}

	var root clipNode
	if err := xml.Unmarshal(raw, &root); err != nil {
		return fmt.Errorf("parse clip file %s: %w", path, err)
	}

	track := findVideoTrack(&root)
	if track == nil {
		return fmt.Errorf("could not find <track uid=\"video\"> in clip file %s", path)
	}
	feeds := track.child("feeds")
	if feeds == nil {
		return fmt.Errorf("video track in clip file %s has no <feeds> container", path)
	}
	versions := findVersions(&root)
	if versions == nil {
		return fmt.Errorf("clip file %s has no <versions> container", path)
	}

	uid := uuid.NewString()

	feedNode := elem("feed", attr("type", "feed"), attr("uid", uid), attr("vuid", uid))
	spans := elem("spans", attr("type", "spans"), attr("version", "4"))
	span := elem("span", attr("type", "span"), attr("version", "4"))
	pathNode := elem("path", attr("encoding", "pattern"))
	pathNode.Content = feed.Path
	span.Children = append(span.Children, pathNode)
	spans.Children = append(spans.Children, span)
	feedNode.Children = append(feedNode.Children, spans)
	feeds.Children = append(feeds.Children, feedNode)

	createdAt := feed.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	versionNode := elem("version", attr("type", "version"), attr("uid", uid))
	nameNode := elem("name")
	nameNode.Content = feed.Name
	dateNode := elem("creationDate")
	dateNode.Content = createdAt.Format("2006-01-02 15:04:05")
	userData := elem("userData", attr("type", "dict"))
	versionNode.Children = append(versionNode.Children, nameNode, dateNode, userData)
	versions.Children = append(versions.Children, versionNode)

	backup := fmt.Sprintf("%s.bak_%s", path, createdAt.Format("20060102_150405"))
	if err := os.WriteFile(backup, raw, 0o644); err != nil {
		return fmt.Errorf("could not create backup copy of the clip file: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "    ")
	if err := enc.Encode(&root); err != nil {
		return fmt.Errorf("serialize clip file: %w", err)
	}
	buf.WriteString("\n")

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write clip file: %w", err)
	}
	return nil
}
