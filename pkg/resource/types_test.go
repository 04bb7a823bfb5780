package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProject(t *testing.T) {
	all := []Size{
		{Label: SizeSquare, Width: 75, Height: 75},
		{Label: SizeMedium, Width: 500, Height: 333},
		{Label: SizeLarge, Width: 1024, Height: 683},
	}

	p := Project("1", all, []string{" large ", "Square"})
	assert.Equal(t, "1", p.PhotoID)
	assert.Equal(t, []Size{all[0], all[2]}, p.Sizes)

	assert.Len(t, Project("1", all, nil).Sizes, 3)
	assert.Empty(t, Project("1", all, []string{"Original"}).Sizes)
}

func TestCollection_Slice(t *testing.T) {
	c := &Collection{}
	for i := 0; i < 7; i++ {
		c.Photos = append(c.Photos, Photo{ID: string(rune('a' + i))})
	}

	page, pages := c.Slice(2, 3)
	assert.Equal(t, 3, pages)
	assert.Equal(t, []Photo{{ID: "d"}, {ID: "e"}, {ID: "f"}}, page)

	page, _ = c.Slice(3, 3)
	assert.Equal(t, []Photo{{ID: "g"}}, page)

	page, pages = c.Slice(4, 3)
	assert.Nil(t, page)
	assert.Equal(t, 3, pages)
}

func TestResult(t *testing.T) {
	found := Found(Stats{Views: 3})
	assert.True(t, found.OK())
	assert.Equal(t, "found", found.Status.String())

	assert.True(t, NotFound[Stats]().IsNotFound())
	assert.True(t, RateLimited[Stats]().IsRateLimited())

	views := Map(found, func(s Stats) int { return s.Views })
	assert.Equal(t, 3, views.Value)

	limited := Map(RateLimited[Stats](), func(s Stats) int { return s.Views })
	assert.True(t, limited.IsRateLimited())
}
