package accessor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/query"
	"github.com/WebHare/platform-sub003/internal/services/checker"
)

func TestRegistry_Exhaustive(t *testing.T) {
	r := NewRegistry()
	for _, kind := range entities.AllKinds() {
		for _, required := range []bool{false, true} {
			assert.True(t, r.Has(kind, required), "kind %s required=%v", kind, required)
		}
	}
}

func TestRegistry_StatusRecordIsUnimplemented(t *testing.T) {
	r := NewRegistry()
	attr := &entities.Attribute{ID: 1, Tag: "status", Kind: entities.KindStatusRecord}
	_, err := r.For(&entities.Schema{}, attr)
	assert.True(t, errors.Is(err, entities.ErrUnimplemented))
}

func TestRegistry_CachesPerAttribute(t *testing.T) {
	r := NewRegistry()
	schema := testSchema(t)
	first := accessorFor(t, r, schema, "free")
	second := accessorFor(t, r, schema, "free")
	assert.Same(t, first, second)
}

func TestRoundTrip(t *testing.T) {
	schema := testSchema(t)
	env := testEnv(schema)
	r := NewRegistry()

	long := strings.Repeat("x", 5000)
	tests := []struct {
		tag    string
		values []any
	}{
		{"free", []any{"", "hello", "ünïcödé", long}},
		{"email", []any{"", "Someone@Example.com"}},
		{"telephone", []any{"+31 (0)53 1234567"}},
		{"url", []any{"https://www.example.com/?q=1"}},
		{"status", []any{"", "active"}},
		{"flag", []any{false, true}},
		{"count", []any{int64(0), int64(-17), int64(2147483647)}},
		{"big", []any{int64(0), int64(9007199254740993)}},
		{"ratio", []any{float64(0), 3.25, -1e-7}},
		{"price", []any{entities.Money(0), entities.Money(1250000), entities.Money(-1)}},
		{"day", []any{time.Time{}, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), time.Date(1, 1, 2, 0, 0, 0, 0, time.UTC)}},
		{"moment", []any{time.Time{}, entities.MaxDateTime, time.Date(2024, 5, 1, 8, 30, 15, 123000000, time.UTC)}},
		{"opens", []any{time.Duration(0), 9*time.Hour + 30*time.Minute}},
		{"country", []any{int64(0), int64(11)}},
	}
	for _, tt := range tests {
		a := accessorFor(t, r, schema, tt.tag)
		for _, v := range tt.values {
			got, _ := roundTrip(t, env, a, v)
			assert.True(t, a.MatchesValue(got, Condition{Match: MatchEqual, Value: v}),
				"%s: decoded %v does not match %v", tt.tag, got, v)
		}
	}
}

func TestRoundTrip_Structured(t *testing.T) {
	schema := testSchema(t)
	env := testEnv(schema)
	r := NewRegistry()

	labels := accessorFor(t, r, schema, "labels")
	got, _ := roundTrip(t, env, labels, []string{"red", "50%_off", "red"})
	assert.Equal(t, []string{"50%_off", "red"}, got)

	countries := accessorFor(t, r, schema, "countries")
	got, rows := roundTrip(t, env, countries, []int64{12, 11})
	assert.Equal(t, []int64{12, 11}, got)
	require.Len(t, rows, 2)
	assert.Equal(t, int32(1), rows[0].Ordering)

	address := accessorFor(t, r, schema, "address")
	addr := entities.Address{Street: "Main", City: "Enschede", Country: "NL"}
	got, _ = roundTrip(t, env, address, addr)
	assert.Equal(t, addr, got)

	data := accessorFor(t, r, schema, "data")
	doc := map[string]any{"b": []any{1.0, "two"}, "a": true}
	got, _ = roundTrip(t, env, data, doc)
	assert.True(t, data.MatchesValue(got, Condition{Match: MatchEqual, Value: doc}))

	payments := accessorFor(t, r, schema, "payments")
	list := []map[string]any{{"amount": 10.0}, {"amount": 20.0, "note": strings.Repeat("n", 5000)}}
	got, rows = roundTrip(t, env, payments, list)
	assert.Equal(t, list, got)
	require.Len(t, rows, 2)
	assert.Equal(t, int32(2), rows[1].Ordering)
	assert.NotNil(t, rows[1].Blob)
}

func TestRoundTrip_Array(t *testing.T) {
	schema := testSchema(t)
	env := testEnv(schema)
	a := accessorFor(t, NewRegistry(), schema, "lines")

	value := []map[string]any{
		{"name": "first", "qty": int64(2), "notes": []map[string]any{{"text": "fragile"}}},
		{"name": "second"},
	}
	got, rows := roundTrip(t, env, a, value)
	// two element roots, two names, one qty, one note root and its text
	assert.Len(t, rows, 7)

	list := got.([]map[string]any)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0]["name"])
	assert.Equal(t, int64(2), list[0]["qty"])
	assert.Equal(t, int64(0), list[1]["qty"])
	notes := list[0]["notes"].([]map[string]any)
	require.Len(t, notes, 1)
	assert.Equal(t, "fragile", notes[0]["text"])
	assert.NotZero(t, list[0][SettingIDField])

	// the element root id travels back as identity token
	again, err := a.EncodeValue(list)
	require.NoError(t, err)
	assert.Equal(t, list[0][SettingIDField], again.Rows[0].Row.ID)
}

func TestRoundTrip_Resources(t *testing.T) {
	schema := testSchema(t)
	env := testEnv(schema)
	r := NewRegistry()
	ctx := context.Background()

	photo := accessorFor(t, r, schema, "photo")
	png := []byte("\x89PNG\r\n\x1a\n0000")
	got, rows := roundTrip(t, env, photo, &entities.Resource{FileName: "a.png", Data: png})
	res := got.(*entities.Resource)
	assert.Equal(t, "image/png", res.MediaType)
	assert.NotNil(t, rows[0].Blob)
	wire, err := photo.ExportValue(ctx, env, res)
	require.NoError(t, err)
	back, err := photo.ImportValue(ctx, env, wire)
	require.NoError(t, err)
	assert.Equal(t, png, back.(*entities.Resource).Data)

	body := accessorFor(t, r, schema, "body")
	got, _ = roundTrip(t, env, body, &entities.Document{ContentType: "text/html", Data: []byte("<p>hi</p>")})
	assert.Equal(t, "<p>hi</p>", string(got.(*entities.Document).Data))

	fileref := accessorFor(t, r, schema, "fileref")
	enc, err := fileref.EncodeValue("site::/docs/a.pdf")
	require.NoError(t, err)
	require.NotNil(t, enc.Rows[0].Link)
	assert.Equal(t, entities.LinkFileRef, enc.Rows[0].Link.Kind)

	link := accessorFor(t, r, schema, "link")
	got, _ = roundTrip(t, env, link, &entities.IntExtLink{Internal: "h-1", Append: "#top"})
	assert.Equal(t, &entities.IntExtLink{Internal: "h-1", Append: "#top"}, got)
	got, _ = roundTrip(t, env, link, &entities.IntExtLink{External: "https://example.com"})
	assert.Equal(t, "https://example.com", got.(*entities.IntExtLink).External)
}

func TestText_BlobOverflow(t *testing.T) {
	schema := testSchema(t)
	env := testEnv(schema)
	a := accessorFor(t, NewRegistry(), schema, "free")

	value := strings.Repeat("é", 2500)
	enc, err := a.EncodeValue(value)
	require.NoError(t, err)
	require.Len(t, enc.Uploads, 1)

	got, rows := roundTrip(t, env, a, value)
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].RawData)
	assert.NotNil(t, rows[0].Blob)
	assert.Equal(t, entities.SearchPrefix(value), rows[0].SearchKey())
	assert.Equal(t, value, got)
}

func TestValidateInput(t *testing.T) {
	schema := testSchema(t)
	r := NewRegistry()

	tests := []struct {
		tag  string
		v    any
		code entities.ValidationCode
	}{
		{"title", "", entities.CodeRequired},
		{"email", "not an address", entities.CodeInvalidValue},
		{"status", "bogus", entities.CodeInvalidValue},
		{"labels", []string{"purple"}, entities.CodeInvalidValue},
		{"count", int64(1) << 40, entities.CodeInvalidValue},
		{"ratio", 1.0 / zero(), entities.CodeInvalidValue},
		{"opens", 25 * time.Hour, entities.CodeInvalidValue},
		{"email", strings.Repeat("a", 5000) + "@example.com", entities.CodeTooLong},
		{"free", 12, entities.CodeInvalidValue},
		{"lines", []map[string]any{{"qty": int64(1)}}, entities.CodeRequired},
		{"address", entities.Address{City: "Nowhere"}, entities.CodeInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			err := accessorFor(t, r, schema, tt.tag).ValidateInput(tt.v, checker.New(1), tt.tag)
			verr, ok := entities.AsValidationError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.code, verr.Code)
		})
	}
}

func zero() float64 { return 0 }

func TestValidateInput_ImportModeSkipsRequiredAndFormat(t *testing.T) {
	schema := testSchema(t)
	r := NewRegistry()
	chk := checker.New(1)
	chk.SkipRequired = true
	chk.Lenient = true

	assert.NoError(t, accessorFor(t, r, schema, "title").ValidateInput("", chk, "title"))
	assert.NoError(t, accessorFor(t, r, schema, "email").ValidateInput("legacy-value", chk, "email"))
	// allowed values are not a format rule
	assert.Error(t, accessorFor(t, r, schema, "status").ValidateInput("bogus", chk, "status"))
}

func TestValidateInput_RegistersChecks(t *testing.T) {
	schema := testSchema(t)
	r := NewRegistry()
	chk := checker.New(1)

	require.NoError(t, accessorFor(t, r, schema, "email").ValidateInput("A@Example.com", chk, "email"))
	require.NoError(t, accessorFor(t, r, schema, "country").ValidateInput(int64(11), chk, "country"))
	require.NoError(t, accessorFor(t, r, schema, "countries").ValidateInput([]int64{11, 12}, chk, "countries"))
	assert.Equal(t, 4, chk.Pending())
}

func TestUniqueKey(t *testing.T) {
	schema := testSchema(t)
	r := NewRegistry()
	email := accessorFor(t, r, schema, "email")
	assert.Equal(t, "a@example.com", email.UniqueKey(&entities.SettingRow{RawData: "A@Example.COM"}))
	country := accessorFor(t, r, schema, "country")
	assert.Equal(t, "11", country.UniqueKey(&entities.SettingRow{Setting: 11}))
	free := accessorFor(t, r, schema, "free")
	assert.Equal(t, "MiXed", free.UniqueKey(&entities.SettingRow{RawData: "MiXed"}))
}

func TestImportExport_References(t *testing.T) {
	schema := testSchema(t)
	env := testEnv(schema)
	ctx := context.Background()
	a := accessorFor(t, NewRegistry(), schema, "country")

	for _, wire := range []any{"NL", "11111111-1111-4111-8111-111111111111", 11.0} {
		v, err := a.ImportValue(ctx, env, wire)
		require.NoError(t, err)
		assert.Equal(t, int64(11), v)
	}
	_, err := a.ImportValue(ctx, env, "XX")
	assert.ErrorIs(t, err, entities.ErrNotResolvable)

	out, err := a.ExportValue(ctx, env, int64(12))
	require.NoError(t, err)
	assert.Equal(t, "22222222-2222-4222-8222-222222222222", out)
}

func TestBaseColumns(t *testing.T) {
	schema := testSchema(t)
	r := NewRegistry()
	ctx := context.Background()
	env := testEnv(schema)
	typ := schema.TypeByTag("thing")

	limit, err := r.For(schema, schema.TopLevel(typ, "wrd_limitdate"))
	require.NoError(t, err)
	v, err := limit.ImportValue(ctx, env, nil)
	require.NoError(t, err)
	assert.Equal(t, entities.MaxDateTime, v)
	out, err := limit.ExportValue(ctx, env, entities.MaxDateTime)
	require.NoError(t, err)
	assert.Nil(t, out)

	rec := NewRecord(&entities.Entity{ID: 5, Tag: "FIVE", LimitDate: entities.MaxDateTime}, nil, nil)
	got, err := limit.GetFromRecord(ctx, env, rec, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, entities.MaxDateTime, got, "base dates keep their sentinel")

	id, err := r.For(schema, schema.TopLevel(typ, "wrd_id"))
	require.NoError(t, err)
	verr, ok := entities.AsValidationError(id.ValidateInput(int64(3), checker.New(0), "wrd_id"))
	require.True(t, ok)
	assert.Equal(t, entities.CodeNotAllowed, verr.Code)

	tag, err := r.For(schema, schema.TopLevel(typ, "wrd_tag"))
	require.NoError(t, err)
	pd, err := tag.AddToQuery(Condition{Match: MatchEqual, Value: "five", IgnoreCase: true})
	require.NoError(t, err)
	assert.True(t, pd.NeedAfterCheck, "case-insensitive column matches are re-verified")
	assert.True(t, query.Match(pd.Predicate, rec.Entity, nil))

	pd, err = tag.AddToQuery(Condition{Match: MatchEqual, Value: "FIVE"})
	require.NoError(t, err)
	assert.False(t, pd.NeedAfterCheck)
}

func TestBaseReference_SelfReference(t *testing.T) {
	def := `
tag: links
types:
  - tag: person
  - {tag: friend, kind: link, left: person, right: person}
`
	schema := buildSchema(t, def)
	typ := schema.TypeByTag("friend")
	left, err := NewRegistry().For(schema, schema.TopLevel(typ, "wrd_leftentity"))
	require.NoError(t, err)

	verr, ok := entities.AsValidationError(left.ValidateInput(int64(7), checker.New(7), "wrd_leftentity"))
	require.True(t, ok)
	assert.Equal(t, entities.CodeSelfReference, verr.Code)

	verr, ok = entities.AsValidationError(left.ValidateInput(int64(0), checker.New(7), "wrd_leftentity"))
	require.True(t, ok)
	assert.Equal(t, entities.CodeRequired, verr.Code)
}

func TestUnknownArrayMember(t *testing.T) {
	schema := testSchema(t)
	a := accessorFor(t, NewRegistry(), schema, "lines")
	err := a.ValidateInput([]map[string]any{{"nmae": "x"}}, checker.New(1), "lines")
	require.Error(t, err)
	assert.True(t, entities.IsInternalError(err))
	assert.Contains(t, err.Error(), `did you mean "name"`)
}

func TestCheckFilter(t *testing.T) {
	schema := testSchema(t)
	r := NewRegistry()

	tests := []struct {
		tag string
		c   Condition
	}{
		{"labels", Condition{Match: MatchMentions, Value: ""}},
		{"countries", Condition{Match: MatchMentions, Value: int64(0)}},
		{"countries", Condition{Match: MatchMentionsAny, Value: []any{}}},
		{"free", Condition{Match: MatchMentions, Value: "x"}},
		{"count", Condition{Match: MatchEqual, Value: "12"}},
		{"lines", Condition{Match: MatchEqual, Value: "x"}},
		{"password", Condition{Match: MatchLike, Value: "*"}},
	}
	for _, tt := range tests {
		err := accessorFor(t, r, schema, tt.tag).CheckFilter(tt.c)
		assert.ErrorIs(t, err, ErrUnsupportedFilter, "%s %s", tt.tag, tt.c.Match)
	}
}

func TestSuggest(t *testing.T) {
	assert.Equal(t, "email", Suggest("emial", []string{"email", "title"}))
	assert.Equal(t, "", Suggest("zzzzzz", []string{"email", "title"}))
}
