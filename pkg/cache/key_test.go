package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		version int64
		want    string
	}{
		{
			name: "no projection",
			key:  Key{Type: TypePhotoInfo, ID: "53012345678"},
			want: "gallery:photo_info:53012345678:v0",
		},
		{
			name:    "versioned",
			key:     Key{Type: TypePage, ID: "album:someone:721:p2:n500"},
			version: 7,
			want:    "gallery:page:album:someone:721:p2:n500:v7",
		},
		{
			name: "projection",
			key:  Key{Type: TypePhotoSizes, ID: "1", Projection: []string{"Large"}},
			want: "gallery:photo_sizes:1_" + ProjectionHash([]string{"large"}) + ":v0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.String("gallery", tt.version))
		})
	}
}

func TestProjectionHash(t *testing.T) {
	h := ProjectionHash([]string{"Large", "Medium"})
	assert.Len(t, h, 8)

	// Order, case, whitespace and duplicates do not change the hash
	assert.Equal(t, h, ProjectionHash([]string{" medium", "large", "LARGE"}))
	assert.NotEqual(t, h, ProjectionHash([]string{"Large"}))

	assert.Empty(t, ProjectionHash(nil))
	assert.Empty(t, ProjectionHash([]string{" ", ""}))
}

func TestKey_Path(t *testing.T) {
	assert.Equal(t, "user:someone", Key{Type: TypeUser, ID: "someone"}.Path())
}
