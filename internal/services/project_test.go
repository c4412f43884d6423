package services

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/huangang/tracer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	buckets    map[string]bool
	createErr  error
	deleteErr  error
	presignErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{buckets: map[string]bool{}}
}

func (s *fakeStorage) CreateBucket(_ context.Context, bucket string) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.buckets[bucket] = true
	return nil
}

func (s *fakeStorage) DeleteBucket(_ context.Context, bucket string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.buckets, bucket)
	return nil
}

func (s *fakeStorage) Upload(context.Context, string, string, io.Reader) error { return nil }
func (s *fakeStorage) Delete(context.Context, string, string) error            { return nil }

func (s *fakeStorage) PresignPut(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	if s.presignErr != nil {
		return "", s.presignErr
	}
	return "https://s3.local/" + bucket + "/" + key + "?X-Amz-Signature=abc", nil
}

func (s *fakeStorage) Region() string { return "ap-test" }

func newProjectService(t *testing.T) (*ProjectService, *fakeStorage, *models.PricePolicy) {
	t.Helper()
	db := newTestDB(t)
	store := newFakeStorage()
	svc := NewProjectService(db, store, "tracer")
	svc.now = fixedClock(testEpoch)
	free, err := NewEntitlementService(db).FreePolicy(bg)
	require.NoError(t, err)
	return svc, store, free
}

func TestProjectCreate(t *testing.T) {
	svc, store, free := newProjectService(t)
	user := createUser(t, svc.db, "alice")

	p, err := svc.Create(bg, user.ID, free, &CreateProjectRequest{Name: " Roadmap ", Desc: "q3"})
	require.NoError(t, err)
	assert.Equal(t, "Roadmap", p.Name)
	assert.Equal(t, 1, p.Color)
	assert.Equal(t, 1, p.JoinCount)
	assert.Equal(t, "ap-test", p.Region)
	assert.True(t, store.buckets[p.Bucket])

	_, err = svc.Create(bg, user.ID, free, &CreateProjectRequest{Name: "Roadmap"})
	assert.ErrorIs(t, err, ErrProjectNameTaken)

	_, err = svc.Create(bg, user.ID, free, &CreateProjectRequest{Name: "   "})
	assert.ErrorIs(t, err, ErrProjectNameRequired)

	// another user may reuse the name
	other := createUser(t, svc.db, "bob")
	_, err = svc.Create(bg, other.ID, free, &CreateProjectRequest{Name: "Roadmap"})
	assert.NoError(t, err)
}

func TestProjectCreate_Limit(t *testing.T) {
	svc, _, free := newProjectService(t)
	user := createUser(t, svc.db, "alice")

	for _, name := range []string{"a", "b", "c"} {
		svc.now = fixedClock(svc.now().Add(time.Millisecond))
		_, err := svc.Create(bg, user.ID, free, &CreateProjectRequest{Name: name})
		require.NoError(t, err)
	}
	_, err := svc.Create(bg, user.ID, free, &CreateProjectRequest{Name: "d"})
	assert.ErrorIs(t, err, ErrProjectLimitReached)
}

func TestProjectCreate_StorageFailure(t *testing.T) {
	svc, store, free := newProjectService(t)
	user := createUser(t, svc.db, "alice")
	store.createErr = errors.New("bucket quota")

	_, err := svc.Create(bg, user.ID, free, &CreateProjectRequest{Name: "x"})
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	var n int64
	svc.db.Model(&models.Project{}).Count(&n)
	assert.EqualValues(t, 0, n)
}

func TestProjectList_AndStar(t *testing.T) {
	svc, _, _ := newProjectService(t)
	alice := createUser(t, svc.db, "alice")
	bob := createUser(t, svc.db, "bob")

	own := createProject(t, svc.db, alice, "own")
	shared := createProject(t, svc.db, bob, "shared")
	addMember(t, svc.db, shared, alice)

	list, err := svc.List(bg, alice.ID)
	require.NoError(t, err)
	require.Len(t, list.My, 1)
	require.Len(t, list.Join, 1)
	assert.Empty(t, list.Star)
	assert.Equal(t, ProjectKindJoin, list.Join[0].Kind)

	starred, err := svc.ToggleStar(bg, alice.ID, shared.ID, ProjectKindJoin)
	require.NoError(t, err)
	assert.True(t, starred)

	starred, err = svc.ToggleStar(bg, alice.ID, own.ID, ProjectKindMy)
	require.NoError(t, err)
	assert.True(t, starred)

	list, err = svc.List(bg, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, list.My)
	assert.Empty(t, list.Join)
	assert.Len(t, list.Star, 2)

	// member star is per user; bob's own view is unchanged
	bobList, err := svc.List(bg, bob.ID)
	require.NoError(t, err)
	require.Len(t, bobList.My, 1)
	assert.False(t, bobList.My[0].Star)

	starred, err = svc.ToggleStar(bg, alice.ID, own.ID, ProjectKindMy)
	require.NoError(t, err)
	assert.False(t, starred)
}

func TestProjectToggleStar_Errors(t *testing.T) {
	svc, _, _ := newProjectService(t)
	alice := createUser(t, svc.db, "alice")
	bob := createUser(t, svc.db, "bob")
	p := createProject(t, svc.db, bob, "bobs")

	_, err := svc.ToggleStar(bg, alice.ID, p.ID, ProjectKindMy)
	assert.ErrorIs(t, err, ErrProjectNotFound)

	_, err = svc.ToggleStar(bg, alice.ID, p.ID, ProjectKindJoin)
	assert.ErrorIs(t, err, ErrProjectNotFound)

	_, err = svc.ToggleStar(bg, alice.ID, p.ID, "other")
	assert.ErrorIs(t, err, ErrInvalidStarKind)
}

func TestProjectDelete(t *testing.T) {
	svc, store, free := newProjectService(t)
	alice := createUser(t, svc.db, "alice")
	bob := createUser(t, svc.db, "bob")

	p, err := svc.Create(bg, alice.ID, free, &CreateProjectRequest{Name: "doomed"})
	require.NoError(t, err)
	addMember(t, svc.db, p, bob)
	require.NoError(t, svc.db.Create(&models.ProjectInvite{Code: "c1", ProjectID: p.ID, CreatorID: alice.ID, Period: 30}).Error)

	assert.ErrorIs(t, svc.Delete(bg, p, bob.ID, "doomed"), ErrNotProjectCreator)
	assert.ErrorIs(t, svc.Delete(bg, p, alice.ID, "Doomed"), ErrProjectNameMismatch)

	store.deleteErr = errors.New("timeout")
	assert.ErrorIs(t, svc.Delete(bg, p, alice.ID, "doomed"), ErrStorageUnavailable)
	var n int64
	svc.db.Model(&models.Project{}).Where("id = ?", p.ID).Count(&n)
	assert.EqualValues(t, 1, n)

	store.deleteErr = nil
	require.NoError(t, svc.Delete(bg, p, alice.ID, "doomed"))
	assert.False(t, store.buckets[p.Bucket])

	svc.db.Model(&models.Project{}).Where("id = ?", p.ID).Count(&n)
	assert.EqualValues(t, 0, n)
	svc.db.Model(&models.ProjectMember{}).Where("project_id = ?", p.ID).Count(&n)
	assert.EqualValues(t, 0, n)
	svc.db.Model(&models.ProjectInvite{}).Where("project_id = ?", p.ID).Count(&n)
	assert.EqualValues(t, 0, n)
}

func TestReserveUpload(t *testing.T) {
	svc, store, _ := newProjectService(t)
	alice := createUser(t, svc.db, "alice")
	p := createProject(t, svc.db, alice, "files")
	p.Bucket = "tracer-bucket"

	tiny := &models.PricePolicy{ProjectSpace: 1, PerFileSize: 600} // 1 GB total, 600 MB per file
	const mb = int64(1) << 20

	r, err := svc.ReserveUpload(bg, p, tiny, &UploadRequest{Name: `C:\docs\plan.pdf`, Size: 500 * mb})
	require.NoError(t, err)
	assert.Contains(t, r.URL, "tracer-bucket")
	assert.Regexp(t, `/plan\.pdf$`, r.Key)
	assert.True(t, r.ExpiresAt.Equal(testEpoch.Add(15*time.Minute)))

	_, err = svc.ReserveUpload(bg, p, tiny, &UploadRequest{Name: "big.bin", Size: 601 * mb})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = svc.ReserveUpload(bg, p, tiny, &UploadRequest{Name: "zero", Size: 0})
	assert.ErrorIs(t, err, ErrInvalidFileSize)

	// 500 + 524 MB = exactly 1 GB
	_, err = svc.ReserveUpload(bg, p, tiny, &UploadRequest{Name: "b", Size: 524 * mb})
	require.NoError(t, err)

	_, err = svc.ReserveUpload(bg, p, tiny, &UploadRequest{Name: "c", Size: 1})
	assert.ErrorIs(t, err, ErrSpaceExceeded)

	var got models.Project
	require.NoError(t, svc.db.Take(&got, p.ID).Error)
	assert.Equal(t, int64(1)<<30, got.UseSpace)

	store.presignErr = errors.New("no creds")
	_, err = svc.ReserveUpload(bg, p, &models.PricePolicy{ProjectSpace: 2, PerFileSize: 5}, &UploadRequest{Name: "d", Size: 1})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	require.NoError(t, svc.db.Take(&got, p.ID).Error)
	assert.Equal(t, int64(1)<<30, got.UseSpace)
}
