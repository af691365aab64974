package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatPatch(t *testing.T) {
	tests := []struct {
		name  string
		patch string
		want  PatchStat
	}{
		{
			name:  "empty patch",
			patch: "",
			want:  PatchStat{},
		},
		{
			name:  "pure addition",
			patch: "@@ -0,0 +1,3 @@\n+a\n+b\n+c\n",
			want:  PatchStat{OldLines: 0, NewLines: 3},
		},
		{
			name:  "pure deletion",
			patch: "@@ -1,2 +0,0 @@\n-a\n-b\n",
			want:  PatchStat{OldLines: 2, NewLines: 0},
		},
		{
			name:  "mixed hunk with context",
			patch: "@@ -10,4 +10,5 @@\n ctx\n-old\n+new\n+extra\n ctx2\n",
			want:  PatchStat{OldLines: 12, NewLines: 13},
		},
		{
			name: "multiple hunks",
			patch: "@@ -1,2 +1,2 @@\n a\n-b\n+B\n" +
				"@@ -100,3 +100,4 @@\n x\n+y\n z\n",
			want: PatchStat{OldLines: 101, NewLines: 102},
		},
		{
			name:  "malformed hunk header is skipped",
			patch: "@@ nonsense @@\n+a\n+b\n",
			want:  PatchStat{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatPatch(tt.patch))
		})
	}
}
