package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPhones(t *testing.T) {
	parser := NewContactParser()

	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{
			name:     "Mixed separators",
			text:     `Hotline: 0912 345 678 - CSKH: 0987.654.321 - Văn phòng: 0243 825 1234`,
			expected: []string{"0912345678", "0987654321", "02438251234"},
		},
		{
			name:     "Country code forms",
			text:     `Gọi +84 912 345 678 hoặc 84 983 111 222`,
			expected: []string{"+84912345678", "84983111222"},
		},
		{
			name:     "Repeated number is returned once",
			text:     `<a href="tel:0912345678">0912 345 678</a> footer 0912.345.678`,
			expected: []string{"0912345678"},
		},
		{
			name:     "Compact number",
			text:     `call 0356789012 now`,
			expected: []string{"0356789012"},
		},
		{
			name:     "No phones",
			text:     `Liên hệ qua email`,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parser.ExtractPhones(tt.text))
		})
	}
}

func TestExtractPhonesDistinctCount(t *testing.T) {
	parser := NewContactParser()

	numbers := []string{"0901 111 222", "0902.333.444", "0903-555-666", "0904777888"}
	text := ""
	for _, n := range numbers {
		text += "Chi nhánh: " + n + "\n"
	}
	text += "Lặp lại: 0901111222\n"

	phones := parser.ExtractPhones(text)
	assert.Equal(t, []string{"0901111222", "0902333444", "0903555666", "0904777888"}, phones)
}

func TestNormalizePhoneIdempotent(t *testing.T) {
	inputs := []string{"+84 369 626 262", "(024) 3825-1234", "0912.345.678", " 0987654321 "}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			once := NormalizePhone(in)
			assert.Equal(t, once, NormalizePhone(once))
			assert.NotContains(t, once, " ")
		})
	}

	assert.Equal(t, "+84369626262", NormalizePhone("+84 369 626 262"))
	assert.Equal(t, "02438251234", NormalizePhone("(024) 3825-1234"))
}

func TestExtractFirstPhone(t *testing.T) {
	parser := NewContactParser()

	assert.Equal(t, "0912345678", parser.ExtractFirstPhone("a 0912 345 678 b 0987654321"))
	assert.Equal(t, "", parser.ExtractFirstPhone("no digits here"))
}

func TestExtractEmails(t *testing.T) {
	parser := NewContactParser()

	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{
			name:     "Keeps first casing and dedups case-insensitively",
			text:     `Sales@Company.vn, sales@company.vn, info@company.vn`,
			expected: []string{"Sales@Company.vn", "info@company.vn"},
		},
		{
			name:     "Rejects placeholder domains",
			text:     `user@example.com admin@test.com me@domain.com sampleemail@shop.vn real@shop.vn`,
			expected: []string{"real@shop.vn"},
		},
		{
			name:     "None",
			text:     `no contact`,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parser.ExtractEmails(tt.text))
		})
	}
}

func TestExtractFirstEmail(t *testing.T) {
	parser := NewContactParser()

	assert.Equal(t, "hello@haisan.vn", parser.ExtractFirstEmail("mail hello@haisan.vn or x@haisan.vn"))
	assert.Equal(t, "", parser.ExtractFirstEmail("demo@example.com"))
}

func TestExtractAddresses(t *testing.T) {
	parser := NewContactParser()

	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{
			name:     "Labelled Vietnamese address",
			text:     "<p>Địa chỉ: 12 Nguyễn Trãi, Thanh Xuân, Hà Nội</p>",
			expected: []string{"12 Nguyễn Trãi, Thanh Xuân, Hà Nội"},
		},
		{
			name:     "English label",
			text:     "Address: 45 Le Loi Street, District 1, Ho Chi Minh City\n",
			expected: []string{"45 Le Loi Street, District 1, Ho Chi Minh City"},
		},
		{
			name:     "Street form without label",
			text:     "Cửa hàng tại Số 8, Phố Hàng Bạc, Hoàn Kiếm\n",
			expected: []string{"Số 8, Phố Hàng Bạc, Hoàn Kiếm"},
		},
		{
			name:     "Too short",
			text:     "Địa chỉ: Hà Nội",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parser.ExtractAddresses(tt.text))
		})
	}
}

func TestExtractFirstAddress(t *testing.T) {
	parser := NewContactParser()

	text := "Địa chỉ: 12 Nguyễn Trãi, Thanh Xuân, Hà Nội\nAddress: 45 Le Loi Street, District 1, Ho Chi Minh City\n"
	assert.Equal(t, "12 Nguyễn Trãi, Thanh Xuân, Hà Nội", parser.ExtractFirstAddress(text))
	assert.Empty(t, parser.ExtractFirstAddress("Liên hệ qua điện thoại"))
}

func TestStripTags(t *testing.T) {
	parser := NewContactParser()
	assert.Equal(t, "12 Hàng Bạc", parser.StripTags("<b>12</b> <i>Hàng Bạc</i>"))
}
