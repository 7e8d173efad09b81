package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/geo"
	"github.com/JakeFAU/listing-harvester/internal/harvest"
)

const pageURL = "https://suumo.jp/jj/chintai/ichiran/FR301FC001/?ar=030&pn=2"

var center = harvest.Coordinate{Lng: 139.7000, Lat: 35.6900}

type fixture struct {
	title   string
	address string
	stairs  string
	href    string
	imgAttr string
	omit    string
}

func (f fixture) html() string {
	if f.stairs == "" {
		f.stairs = "3階"
	}
	if f.href == "" {
		f.href = "/chintai/jnc_000012345678/"
	}
	if f.imgAttr == "" {
		f.imgAttr = `src="https://img.suumo.jp/front/gazo/bukken/1.jpg"`
	}
	part := func(name, markup string) string {
		if f.omit == name {
			return ""
		}
		return markup
	}
	return fmt.Sprintf(`
<li>
  <div class="cassetteitem">
    %s
    %s
    <table class="cassetteitem_other">
      <tbody>
        <tr>
          <td><input type="checkbox"></td>
          <td><img class="js-linkImage" %s></td>
          <td>%s</td>
          <td>
            %s
            <span class="cassetteitem_price cassetteitem_price--administration">5000円</span>
          </td>
          <td>
            <span class="cassetteitem_price cassetteitem_price--deposit">8.2万円</span>
            %s
          </td>
          <td>
            <span class="cassetteitem_madori">1K</span>
            %s
          </td>
          <td><a href="%s">詳細を見る</a></td>
        </tr>
        <tr>
          <td></td><td></td><td>9階</td><td></td><td><a href="/other/">other</a></td>
        </tr>
      </tbody>
    </table>
  </div>
</li>`,
		part("title", `<div class="cassetteitem_content-title">`+f.title+`</div>`),
		part("address", `<div class="cassetteitem_detail-col1">`+f.address+`</div>`),
		f.imgAttr,
		f.stairs,
		part("rent", `<span class="cassetteitem_other-emphasis ui-text--bold">8.2万円</span>`),
		part("gratuity", `<span class="cassetteitem_price cassetteitem_price--gratuity">-</span>`),
		part("area", `<span class="cassetteitem_menseki">25.5m<sup>2</sup></span>`),
		f.href,
	)
}

func page(listings []fixture, pager string) harvest.Snapshot {
	var b strings.Builder
	b.WriteString(`<html><body><div id="js-bannerPanel">ad</div><ul class="l-cassetteitem">`)
	for _, l := range listings {
		b.WriteString(l.html())
	}
	b.WriteString(`</ul>`)
	b.WriteString(pager)
	b.WriteString(`</body></html>`)
	return harvest.Snapshot{URL: pageURL, HTML: []byte(b.String())}
}

const pager = `
<div class="pagination pagination_set-nav">
  <p class="pagination-parts"><a href="/jj/chintai/ichiran/FR301FC001/?ar=030&amp;pn=1">前へ</a></p>
  <p class="pagination-parts"><a href="/jj/chintai/ichiran/FR301FC001/?ar=030&amp;pn=3">次へ</a></p>
  <ol class="pagination-parts">
    <li><a href="?pn=1">1</a></li>
    <li><span>2</span></li>
    <li><a href="?pn=3">3</a></li>
    <li>...</li>
    <li><a href="?pn=12">12</a></li>
  </ol>
</div>`

type mapResolver struct {
	mu     sync.Mutex
	coords map[string]harvest.Coordinate
	err    error
	keys   []string
}

func (r *mapResolver) Resolve(_ context.Context, key string) (harvest.Coordinate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	if r.err != nil {
		return harvest.Coordinate{}, r.err
	}
	c, ok := r.coords[key]
	if !ok {
		return harvest.Coordinate{}, fmt.Errorf("%w: unknown key %q", harvest.ErrGeocodingFailure, key)
	}
	return c, nil
}

func TestTotalPages(t *testing.T) {
	t.Parallel()

	e := New(&mapResolver{}, Config{}, nil)

	n, err := e.TotalPages(page(nil, pager))
	require.NoError(t, err)
	require.Equal(t, 12, n)

	n, err = e.TotalPages(page(nil, ""))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = e.TotalPages(page(nil, `<ol class="pagination-parts"><li><a>last</a></li></ol>`))
	require.ErrorIs(t, err, harvest.ErrExtractionFault)
}

func TestExtractFiltersByRadiusInPageOrder(t *testing.T) {
	t.Parallel()

	near1 := harvest.Coordinate{Lng: 139.7010, Lat: 35.6905}
	far := harvest.Coordinate{Lng: 139.9000, Lat: 35.9000}
	near2 := harvest.Coordinate{Lng: 139.6995, Lat: 35.6898}
	r := &mapResolver{coords: map[string]harvest.Coordinate{
		"東京都新宿区西新宿1パークハイツ":  near1,
		"千葉県松戸市松戸1メゾン松戸":    far,
		"東京都新宿区西新宿3グラン 西新宿": near2,
	}}
	e := New(r, Config{Parallelism: 2}, nil)

	snap := page([]fixture{
		{title: "パークハイツ", address: "東京都新宿区西新宿1"},
		{title: "メゾン松戸", address: "千葉県松戸市松戸1"},
		{title: "グラン 西新宿", address: "東京都新宿区西新宿3"},
	}, pager)

	got, err := e.Extract(context.Background(), snap, center, 1000)
	require.NoError(t, err)
	require.Equal(t, 3, got.Seen)
	require.Len(t, got.Listings, 2)
	require.Equal(t, "パークハイツ", got.Listings[0].Title)
	require.Equal(t, near1, got.Listings[0].Location)
	require.Equal(t, "グラン 西新宿", got.Listings[1].Title)

	first := got.Listings[0]
	require.Equal(t, "3階", first.Stairs)
	require.Equal(t, "https://suumo.jp/chintai/jnc_000012345678/", first.DetailURL)
	require.Equal(t, "https://img.suumo.jp/front/gazo/bukken/1.jpg", first.ImageURL)
	require.Equal(t, "8.2万円", first.Rent)
	require.Equal(t, "5000円", first.AdministrativeExpenses)
	require.Equal(t, "8.2万円", first.Deposit)
	require.Equal(t, "-", first.Gratuity)
	require.Equal(t, "1K", first.PlanOfHouse)
	require.Equal(t, "25.5m2", first.Area)

	for _, l := range got.Listings {
		require.Less(t, geo.Between(center, l.Location)*1000, 1000.0)
	}
}

func TestExtractDropsMalformedTitles(t *testing.T) {
	t.Parallel()

	r := &mapResolver{coords: map[string]harvest.Coordinate{
		"東京都新宿区西新宿1パークハイツ": center,
	}}
	e := New(r, Config{}, nil)

	snap := page([]fixture{
		{title: "パークハイツ", address: "東京都新宿区西新宿1"},
		{title: "JR山手線 新宿駅 歩5分", address: "東京都新宿区西新宿2"},
		{title: "ハイツ　新宿　西口", address: "東京都新宿区西新宿4", omit: "rent"},
	}, "")

	got, err := e.Extract(context.Background(), snap, center, 500)
	require.NoError(t, err)
	require.Len(t, got.Listings, 1)
	require.Equal(t, []string{"東京都新宿区西新宿1パークハイツ"}, r.keys)
	require.Nil(t, got.Next)
}

func TestExtractMissingFieldIsFault(t *testing.T) {
	t.Parallel()

	for _, field := range []string{"title", "address", "rent", "gratuity", "area"} {
		t.Run(field, func(t *testing.T) {
			t.Parallel()
			r := &mapResolver{coords: map[string]harvest.Coordinate{}}
			e := New(r, Config{}, nil)
			snap := page([]fixture{{title: "パークハイツ", address: "東京都", omit: field}}, "")

			_, err := e.Extract(context.Background(), snap, center, 500)
			require.ErrorIs(t, err, harvest.ErrExtractionFault)
		})
	}
}

func TestExtractPropagatesGeocodingFailure(t *testing.T) {
	t.Parallel()

	r := &mapResolver{err: fmt.Errorf("%w: quota", harvest.ErrGeocodingFailure)}
	e := New(r, Config{}, nil)
	snap := page([]fixture{{title: "パークハイツ", address: "東京都"}}, "")

	_, err := e.Extract(context.Background(), snap, center, 500)
	require.ErrorIs(t, err, harvest.ErrGeocodingFailure)
	require.False(t, errors.Is(err, harvest.ErrExtractionFault))
}

func TestExtractBoundaryIsExclusive(t *testing.T) {
	t.Parallel()

	edge := harvest.Coordinate{Lng: 139.7100, Lat: 35.6900}
	r := &mapResolver{coords: map[string]harvest.Coordinate{"住所タイトル": edge}}
	e := New(r, Config{}, nil)
	snap := page([]fixture{{title: "タイトル", address: "住所"}}, "")

	exact := geo.Between(center, edge) * 1000
	got, err := e.Extract(context.Background(), snap, center, exact)
	require.NoError(t, err)
	require.Empty(t, got.Listings)

	got, err = e.Extract(context.Background(), snap, center, exact+1)
	require.NoError(t, err)
	require.Len(t, got.Listings, 1)
}

func TestExtractImageFallbacks(t *testing.T) {
	t.Parallel()

	r := &mapResolver{coords: map[string]harvest.Coordinate{"aA": center, "bB": center}}
	e := New(r, Config{}, nil)
	snap := page([]fixture{
		{title: "A", address: "a", imgAttr: `src="" rel="//img.suumo.jp/lazy.jpg"`},
		{title: "B", address: "b", imgAttr: `alt="none"`},
	}, "")

	got, err := e.Extract(context.Background(), snap, center, 10)
	require.NoError(t, err)
	require.Len(t, got.Listings, 2)
	require.Equal(t, "https://img.suumo.jp/lazy.jpg", got.Listings[0].ImageURL)
	require.Empty(t, got.Listings[1].ImageURL)
}

func TestExtractTrimsTitleBeforeGuardAndCacheKey(t *testing.T) {
	t.Parallel()

	r := &mapResolver{coords: map[string]harvest.Coordinate{"東京都新宿区西新宿1パークハイツ": center}}
	e := New(r, Config{}, nil)
	snap := page([]fixture{{title: "\n  パークハイツ \n", address: " 東京都新宿区西新宿1\n"}}, "")

	got, err := e.Extract(context.Background(), snap, center, 10)
	require.NoError(t, err)
	require.Len(t, got.Listings, 1)
	require.Equal(t, "パークハイツ", got.Listings[0].Title)
	require.Equal(t, []string{"東京都新宿区西新宿1パークハイツ"}, r.keys)
}

func TestExtractPercentEncodesDetailURL(t *testing.T) {
	t.Parallel()

	r := &mapResolver{coords: map[string]harvest.Coordinate{"aA": center}}
	e := New(r, Config{}, nil)
	snap := page([]fixture{{title: "A", address: "a", href: "/chintai/西新宿/"}}, "")

	got, err := e.Extract(context.Background(), snap, center, 10)
	require.NoError(t, err)
	require.Len(t, got.Listings, 1)
	require.Equal(t, "https://suumo.jp/chintai/%E8%A5%BF%E6%96%B0%E5%AE%BF/", got.Listings[0].DetailURL)
}

func TestNextControlLastMatchWins(t *testing.T) {
	t.Parallel()

	e := New(&mapResolver{}, Config{}, nil)
	twoBars := pager + `<p class="pagination-parts"><a href="?pn=3&amp;bottom=1">次へ</a></p>`

	got, err := e.Extract(context.Background(), page(nil, twoBars), center, 10)
	require.NoError(t, err)
	require.NotNil(t, got.Next)
	require.Equal(t, NextControlSelector, got.Next.Selector)
	require.Equal(t, 2, got.Next.Index)
	require.Equal(t, "次へ", got.Next.Label)
	require.Equal(t, "https://suumo.jp/jj/chintai/ichiran/FR301FC001/?pn=3&bottom=1", got.Next.Href)
}

func TestMalformedTitle(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"":                   false,
		"パークハイツ":             false,
		"グラン 西新宿":            false,
		"グラン　西新宿":            false,
		"JR山手線 新宿駅 歩5分":      true,
		"ハイツ　新宿　西口":          true,
		"mixed 全角　and space": true,
	}
	for title, want := range cases {
		require.Equal(t, want, MalformedTitle(title), title)
	}
}
