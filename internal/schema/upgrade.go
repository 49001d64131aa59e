package schema

import (
	"fmt"
	"strings"
)

// Upgrades are pure and total: every document accepted by the source
// version's validator upgrades to a document the next validator accepts.
// The only impurity is the clock in Env, used by the two historical steps
// that stamp timestamps (V0→V1 and V3→V4).

const v0RootID = "tapestry"

func upgradeV0(d DocumentV0, env Env) DocumentV1 {
	now := env.now()
	out := DocumentV1{
		header: header{
			Version:   1,
			ID:        v0RootID,
			rootCore:  d.rootCore.clone(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		Items: make([]ItemV1, len(d.Items)),
		Rels:  make([]RelV1, len(d.Rels)),
	}
	if out.Theme == "" {
		out.Theme = ThemeLight
	}

	for i, it := range d.Items {
		core := it.itemCore.clone()
		var sub subTypes
		switch core.Type {
		case TypeWaybackPage:
			core.Type = TypeWebpage
			sub.WebpageType = WebpageIAWayback
		case TypeWebpage:
			sub.WebpageType = WebpageGeneric
		case TypeYouTube:
			core.Type = TypeVideo
			sub.VideoType = VideoYouTube
		case TypeVideo:
			sub.VideoType = VideoURL
		}
		times := it.legacyTimes
		times.StartTime = copyFloat(times.StartTime)
		times.EndTime = copyFloat(times.EndTime)
		times.StartAt = copyFloat(times.StartAt)
		times.StopAt = copyFloat(times.StopAt)
		out.Items[i] = ItemV1{
			ID:          v0ItemID(i),
			TapestryID:  v0RootID,
			itemCore:    core,
			subTypes:    sub,
			legacyTimes: times,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	for i, r := range d.Rels {
		out.Rels[i] = RelV1{
			ID:    fmt.Sprintf("rel-%d", i),
			From:  v0Endpoint(r.From),
			To:    v0Endpoint(r.To),
			Color: r.Color,
		}
	}
	return out
}

func v0ItemID(index int) string {
	return fmt.Sprintf("item-%d", index)
}

func v0Endpoint(e RelEndpointV0) RelEndpoint {
	arrow := e.ArrowHead
	if arrow == "" {
		arrow = ArrowNone
	}
	return RelEndpoint{ItemID: v0ItemID(e.ItemIndex), Anchor: e.Anchor, ArrowHead: arrow}
}

func upgradeV1(d DocumentV1, _ Env) DocumentV2 {
	out := DocumentV2{
		header: d.header,
		Items:  make([]ItemV2, len(d.Items)),
		Rels:   append(make([]RelV1, 0, len(d.Rels)), d.Rels...),
	}
	out.rootCore = d.rootCore.clone()
	out.Version = 2
	for i, it := range d.Items {
		it.itemCore = it.itemCore.clone()
		out.Items[i] = ItemV2{ItemV1: it, DropShadow: true}
	}
	return out
}

func upgradeV2(d DocumentV2, _ Env) DocumentV3 {
	out := DocumentV3{
		header: d.header,
		Items:  make([]ItemV3, len(d.Items)),
		Rels:   append(make([]RelV1, 0, len(d.Rels)), d.Rels...),
	}
	out.rootCore = d.rootCore.clone()
	out.Version = 3
	for i, it := range d.Items {
		var times mediaTimes
		switch it.Type {
		case TypeVideo:
			times = mediaTimes{StartTime: copyFloat(it.StartTime), StopTime: copyFloat(it.EndTime)}
		case TypeAudio:
			times = mediaTimes{StartTime: copyFloat(it.StartAt), StopTime: copyFloat(it.StopAt)}
		}
		if times.StartTime != nil && times.StopTime != nil && *times.StopTime < *times.StartTime {
			times.StopTime = nil
		}
		out.Items[i] = ItemV3{
			ID:         it.ID,
			TapestryID: it.TapestryID,
			itemCore:   it.itemCore.clone(),
			subTypes:   it.subTypes,
			mediaTimes: times,
			DropShadow: it.DropShadow,
			CreatedAt:  it.CreatedAt,
			UpdatedAt:  it.UpdatedAt,
		}
	}
	return out
}

func upgradeV3(d DocumentV3, env Env) DocumentV4 {
	out := DocumentV4{
		header:            d.header,
		Items:             make([]ItemV4, len(d.Items)),
		Rels:              make([]Rel, len(d.Rels)),
		Groups:            []Group{},
		PresentationSteps: []PresentationStep{},
	}
	out.rootCore = d.rootCore.clone()
	out.Version = 4
	out.UpdatedAt = env.now()
	for i, it := range d.Items {
		it.itemCore = it.itemCore.clone()
		it.mediaTimes = mediaTimes{StartTime: copyFloat(it.StartTime), StopTime: copyFloat(it.StopTime)}
		out.Items[i] = ItemV4{ItemV3: it}
	}
	for i, r := range d.Rels {
		out.Rels[i] = Rel{ID: r.ID, From: r.From, To: r.To, Color: r.Color, Weight: WeightLight}
	}
	return out
}

func upgradeV4(d DocumentV4, _ Env) DocumentV5 {
	out := DocumentV5{
		header:            d.header,
		Items:             make([]ItemV5, len(d.Items)),
		Rels:              cloneSlice(d.Rels),
		Groups:            cloneSlice(d.Groups),
		PresentationSteps: cloneSlice(d.PresentationSteps),
	}
	out.rootCore = d.rootCore.clone()
	out.Version = 5
	for i, it := range d.Items {
		it.itemCore = it.itemCore.clone()
		it.mediaTimes = mediaTimes{StartTime: copyFloat(it.StartTime), StopTime: copyFloat(it.StopTime)}
		out.Items[i] = ItemV5{ItemV4: it}
	}
	return out
}

func upgradeV5(d DocumentV5, _ Env) Manifest {
	root := d.rootCore.clone()
	out := Manifest{
		Version:           Current,
		ID:                d.ID,
		Title:             root.Title,
		Description:       root.Description,
		Background:        root.Background,
		Theme:             root.Theme,
		StartView:         root.StartView,
		Thumbnail:         root.Thumbnail,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		Items:             make([]Item, len(d.Items)),
		Rels:              cloneSlice(d.Rels),
		Groups:            cloneSlice(d.Groups),
		PresentationSteps: cloneSlice(d.PresentationSteps),
	}

	ids := make(map[string]struct{}, len(d.Items))
	for _, it := range d.Items {
		ids[it.ID] = struct{}{}
	}

	for i, it := range d.Items {
		core := it.itemCore.clone()
		item := Item{
			ID:               it.ID,
			TapestryID:       it.TapestryID,
			Type:             ItemType(core.Type),
			Title:            core.Title,
			Position:         core.Position,
			Size:             core.Size,
			DropShadow:       it.DropShadow,
			GroupID:          it.GroupID,
			Text:             core.Text,
			Source:           core.Source,
			InternallyHosted: core.InternallyHosted,
			Thumbnail:        core.Thumbnail,
			CustomThumbnail:  core.CustomThumbnail,
			WebpageType:      it.WebpageType,
			VideoType:        it.VideoType,
			StartTime:        copyFloat(it.StartTime),
			StopTime:         copyFloat(it.StopTime),
			CreatedAt:        it.CreatedAt,
			UpdatedAt:        it.UpdatedAt,
		}
		if it.Action != nil {
			item.Action = splitLinkAction(it.Action.URL, ids)
		}
		out.Items[i] = item
	}
	return out
}

// splitLinkAction classifies a V5 link by its shape: a fragment naming an
// item of the same tapestry ("#<itemId>") is internal, anything else is an
// external URL.
func splitLinkAction(url string, items map[string]struct{}) *Action {
	if id, ok := strings.CutPrefix(url, "#"); ok {
		if _, exists := items[id]; exists {
			return &Action{Type: ActionInternalLink, ItemID: id}
		}
	}
	return &Action{Type: ActionExternalLink, URL: url}
}
