package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"

	"github.com/permephem/null-sub005/internal/domain"
)

const subjectTagDomain = "NULL_TAG_v1"

const tagSeparator = 0x1f

var ErrEmptyTagKey = errors.New("subject tag key is empty")

// DeriveSubjectTag computes HMAC-SHA256(key, "NULL_TAG_v1" 0x1f handle 0x1f context).
// The tag is stable for a controller but unlinkable across controllers.
func DeriveSubjectTag(controllerKey []byte, subjectHandle, context string) (domain.Digest, error) {
	if len(controllerKey) == 0 {
		return domain.Digest{}, ErrEmptyTagKey
	}
	mac := hmac.New(sha256.New, controllerKey)
	mac.Write([]byte(subjectTagDomain))
	mac.Write([]byte{tagSeparator})
	mac.Write([]byte(subjectHandle))
	mac.Write([]byte{tagSeparator})
	mac.Write([]byte(context))

	var tag domain.Digest
	copy(tag[:], mac.Sum(nil))
	return tag, nil
}
