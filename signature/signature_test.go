package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T, secret string) Validator {
	t.Helper()

	v, err := New(&Config{Secret: secret})
	require.NoError(t, err)
	return v
}

func TestNew(t *testing.T) {
	t.Run("nil 配置可用（密钥延迟报错）", func(t *testing.T) {
		v, err := New(nil)
		require.NoError(t, err)
		assert.ErrorIs(t, v.Verify([]byte("body"), "sha256=x"), ErrNoSecret)
	})

	t.Run("不支持的算法返回错误", func(t *testing.T) {
		_, err := New(&Config{Scheme: "md5"})
		assert.ErrorIs(t, err, ErrUnsupportedScheme)
	})
}

func TestVerify(t *testing.T) {
	v := newTestValidator(t, "top-secret")
	body := []byte(`{"message":"hello","user":"u1"}`)

	t.Run("同一三元组生成的签名校验通过", func(t *testing.T) {
		header, err := v.Sign(body)
		require.NoError(t, err)
		assert.NoError(t, v.Verify(body, header))
	})

	t.Run("篡改请求体校验失败", func(t *testing.T) {
		header, err := v.Sign(body)
		require.NoError(t, err)

		tampered := []byte(`{"message":"hacked","user":"u1"}`)
		assert.ErrorIs(t, v.Verify(tampered, header), ErrSignatureInvalid)
	})

	t.Run("错误密钥校验失败", func(t *testing.T) {
		other := newTestValidator(t, "wrong-secret")
		header, err := other.Sign(body)
		require.NoError(t, err)

		assert.ErrorIs(t, v.Verify(body, header), ErrSignatureInvalid)
	})

	t.Run("字节级差异导致校验失败", func(t *testing.T) {
		// 键序或空白的重排会改变原始字节，签名必须失效
		header, err := v.Sign(body)
		require.NoError(t, err)

		reencoded := []byte(`{"user":"u1","message":"hello"}`)
		assert.ErrorIs(t, v.Verify(reencoded, header), ErrSignatureInvalid)
	})

	t.Run("缺失签名头失败关闭", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(body, ""), ErrSignatureMissing)
	})

	t.Run("畸形签名头失败关闭", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(body, "not-a-signature"), ErrSignatureInvalid)
		assert.ErrorIs(t, v.Verify(body, "sha256="), ErrSignatureInvalid)
	})
}

func TestVerify_SHA1(t *testing.T) {
	v, err := New(&Config{Secret: "s", Scheme: "sha1"})
	require.NoError(t, err)

	body := []byte("payload")
	header, err := v.Sign(body)
	require.NoError(t, err)

	assert.Contains(t, header, "sha1=")
	assert.NoError(t, v.Verify(body, header))
}
