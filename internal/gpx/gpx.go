package gpx

import (
	"encoding/csv"
	"encoding/xml"
	"io"
	"strconv"
)

// Waypoint is one track coordinate as exchanged with dashboards.
type Waypoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type gpxDoc struct {
	XMLName xml.Name `xml:"gpx"`
	Version string   `xml:"version,attr"`
	Creator string   `xml:"creator,attr"`
	Xmlns   string   `xml:"xmlns,attr"`
	Trk     trk      `xml:"trk"`
}

type trk struct {
	Trkseg trkseg `xml:"trkseg"`
}

type trkseg struct {
	Trkpt []trkpt `xml:"trkpt"`
}

type trkpt struct {
	Lat string `xml:"lat,attr"`
	Lon string `xml:"lon,attr"`
}

// Marshal renders waypoints as a GPX 1.1 document with a single track
// segment.
func Marshal(points []Waypoint) ([]byte, error) {
	doc := gpxDoc{Version: "1.1", Creator: "geolog", Xmlns: "http://www.topografix.com/GPX/1/1"}
	doc.Trk.Trkseg.Trkpt = make([]trkpt, 0, len(points))
	for _, p := range points {
		doc.Trk.Trkseg.Trkpt = append(doc.Trk.Trkseg.Trkpt, trkpt{
			Lat: strconv.FormatFloat(p.Lat, 'f', -1, 64),
			Lon: strconv.FormatFloat(p.Lng, 'f', -1, 64),
		})
	}
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

// ParseGPX extracts track points from a GPX document. Points with
// non-numeric coordinates are skipped.
func ParseGPX(r io.Reader) ([]Waypoint, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	doc := gpxDoc{}
	err = xml.Unmarshal(data, &doc)
	if err != nil {
		return nil, err
	}
	points := make([]Waypoint, 0, len(doc.Trk.Trkseg.Trkpt))
	for _, pt := range doc.Trk.Trkseg.Trkpt {
		lat, err := strconv.ParseFloat(pt.Lat, 64)
		if err != nil {
			continue
		}
		lng, err := strconv.ParseFloat(pt.Lon, 64)
		if err != nil {
			continue
		}
		points = append(points, Waypoint{Lat: lat, Lng: lng})
	}
	return points, nil
}

// ParseCSV extracts waypoints from exported log rows
// (timestamp,lat,lng,...). Malformed rows are skipped.
func ParseCSV(r io.Reader) ([]Waypoint, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	points := []Waypoint{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) < 3 {
			continue
		}
		lat, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			continue
		}
		lng, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			continue
		}
		points = append(points, Waypoint{Lat: lat, Lng: lng})
	}
	return points, nil
}
