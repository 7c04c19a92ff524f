package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{name: "auto passes", input: "auto", want: "auto"},
		{name: "known code", input: "ko", want: "ko"},
		{name: "uppercase normalized", input: "KO", want: "ko"},
		{name: "chinese variant", input: "zh-TW", want: "zh-tw"},
		{name: "country code korea", input: "kr", wantErr: `use language code "ko"`},
		{name: "country code japan", input: "jp", wantErr: `use language code "ja"`},
		{name: "bcp 47 outside named set", input: "nb", want: "nb"},
		{name: "unknown code", input: "xx", wantErr: "unsupported language code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "ko (Korean)", Label("ko"))
	assert.Equal(t, "xx", Label("xx"))
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "korean", text: "안녕하세요. 이 책은 한국어로 쓰여 있습니다. 오늘 날씨가 정말 좋네요.", want: "ko"},
		{name: "japanese", text: "こんにちは。この本は日本語で書かれています。今日はとても良い天気ですね。", want: "ja"},
		{name: "empty", text: "   ", want: Auto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.text))
		})
	}
}

func TestRefineChinese(t *testing.T) {
	assert.Equal(t, "zh-cn", refineChinese("这是简体中文的说明，现在开始阅读这本书。"))
	assert.Equal(t, "zh-tw", refineChinese("這是繁體中文的說明，現在開始閱讀這本書。"))
}
