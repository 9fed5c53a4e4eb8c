package artifact

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/SMLunchen/mh-web-flasher/internal/catalog"
)

// ---------------------------------------------------------------------------
// stubFetcher
// ---------------------------------------------------------------------------

type stubFetcher struct{ mock.Mock }

func (s *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	args := s.Called(ctx, url)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// ---------------------------------------------------------------------------
// Resolution order
// ---------------------------------------------------------------------------

func TestResolve_DirectURLBeatsArchiveURL(t *testing.T) {
	f := &stubFetcher{}
	f.On("Fetch", mock.Anything, "https://dl.example/firmware-tbeam-2.5.0-update.bin").
		Return([]byte("direct"), nil).Once()

	fw := &catalog.Firmware{
		ID:      "v2.5.0",
		BinURLs: map[string]string{"update": "https://dl.example/firmware-tbeam-2.5.0-update.bin"},
		ZipURL:  "https://dl.example/firmware-2.5.0.zip",
	}

	got, err := NewLocator(f, nil).Resolve(context.Background(), fw, "firmware-tbeam-2.5.0-update.bin", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("direct"), got)
	f.AssertExpectations(t)
	f.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestResolve_ArchiveRelative(t *testing.T) {
	f := &stubFetcher{}
	f.On("Fetch", mock.Anything, "https://dl.example/firmware-2.5.0/littlefs-tbeam-2.5.0.bin").
		Return([]byte("fs"), nil).Once()

	fw := &catalog.Firmware{
		ID:      "v2.5.0",
		BinURLs: map[string]string{"update": "https://dl.example/u.bin"},
		ZipURL:  "https://dl.example/firmware-2.5.0.zip",
	}

	got, err := NewLocator(f, nil).Resolve(context.Background(), fw, "littlefs-tbeam-2.5.0.bin", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("fs"), got)
	f.AssertExpectations(t)
}

func TestResolve_UF2Direct(t *testing.T) {
	f := &stubFetcher{}
	f.On("Fetch", mock.Anything, "https://dl.example/full.uf2").Return([]byte("uf2"), nil).Once()

	fw := &catalog.Firmware{
		ID:      "v2.5.0",
		UF2URLs: map[string]string{"update": "https://dl.example/not-a-uf2.bin", "full": "https://dl.example/full.uf2"},
		ZipURL:  "https://dl.example/firmware-2.5.0.zip",
	}

	got, err := NewLocator(f, nil).Resolve(context.Background(), fw, "firmware-rak4631-2.5.0.uf2", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("uf2"), got)
	f.AssertExpectations(t)
}

func TestResolve_UF2DerivedFromBinary(t *testing.T) {
	f := &stubFetcher{}
	f.On("Fetch", mock.Anything, "https://dl.example/firmware-rak4631-2.5.0.uf2").Return([]byte("uf2"), nil).Once()

	fw := &catalog.Firmware{
		ID:      "v2.5.0",
		BinURLs: map[string]string{"update": "https://dl.example/firmware-rak4631-2.5.0-update.bin"},
	}

	got, err := NewLocator(f, nil).Resolve(context.Background(), fw, "firmware-rak4631-2.5.0.uf2", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("uf2"), got)
	f.AssertExpectations(t)
}

func TestResolve_UploadedArchive(t *testing.T) {
	f := &stubFetcher{}
	up := &Upload{
		Name: "firmware-2.5.0.zip",
		Data: buildZip(t, "firmware-tbeam-2.5.0-update.bin", "firmware-tbeam-2.5.0.factory.bin"),
	}

	got, err := NewLocator(f, nil).Resolve(context.Background(), nil, "firmware-tbeam-.+-update.bin", up)
	require.NoError(t, err)
	assert.Equal(t, "firmware-tbeam-2.5.0-update.bin", string(got))
	f.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestResolve_UploadedRawFileIgnoresName(t *testing.T) {
	up := &Upload{Name: "custom.bin", Data: []byte{1, 2, 3}}

	got, err := NewLocator(nil, nil).Resolve(context.Background(), nil, "littlefs-tbeam-2.5.0.bin", up)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestResolve_NothingApplies(t *testing.T) {
	fw := &catalog.Firmware{ID: "v2.5.0", UF2URLs: map[string]string{"full": "https://dl.example/x.uf2"}}

	_, err := NewLocator(&stubFetcher{}, nil).Resolve(context.Background(), fw, "bleota.bin", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "bleota.bin", nf.Name)
}

func TestResolve_FetchErrorPropagates(t *testing.T) {
	boom := &FetchError{URL: "https://dl.example/u.bin", Status: http.StatusBadGateway}
	f := &stubFetcher{}
	f.On("Fetch", mock.Anything, "https://dl.example/u.bin").Return(nil, boom)

	fw := &catalog.Firmware{ID: "v2.5.0", BinURLs: map[string]string{"update": "https://dl.example/u.bin"}}

	_, err := NewLocator(f, nil).Resolve(context.Background(), fw, "firmware-x-2.5.0-update.bin", nil)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusBadGateway, fe.Status)
	assert.NotErrorIs(t, err, ErrArtifactNotFound)
}

func TestResolve_MissingOnServerIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dev := &catalog.Device{PlatformioTarget: "heltec-v3", Architecture: "esp32-s3"}
	fw := &catalog.Firmware{ID: "v2.5.0", ZipURL: srv.URL + "/firmware-2.5.0.zip"}
	name := Names(dev, fw).OTA

	_, err := NewLocator(NewHTTPFetcher(0), nil).Resolve(context.Background(), fw, name, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "bleota-s3.bin", nf.Name)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, srv.URL+"/firmware-2.5.0/bleota-s3.bin", fe.URL)
	assert.Equal(t, http.StatusNotFound, fe.Status)
}

func TestResolve_GoneIsNotFound(t *testing.T) {
	f := &stubFetcher{}
	f.On("Fetch", mock.Anything, "https://dl.example/fs.bin").
		Return(nil, &FetchError{URL: "https://dl.example/fs.bin", Status: http.StatusGone})

	fw := &catalog.Firmware{ID: "v2.5.0", BinURLs: map[string]string{"littlefs": "https://dl.example/fs.bin"}}

	_, err := NewLocator(f, nil).Resolve(context.Background(), fw, "littlefs-x-2.5.0.bin", nil)
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestResolve_OTALoaderDirectPerChip(t *testing.T) {
	for _, arch := range []string{"esp32", "esp32-s3", "esp32-c3"} {
		t.Run(arch, func(t *testing.T) {
			dev := &catalog.Device{PlatformioTarget: "board", Architecture: arch}
			fw := &catalog.Firmware{ID: "v2.5.0", BinURLs: map[string]string{"ota": "https://dl.example/ota-loader.bin"}}

			f := &stubFetcher{}
			f.On("Fetch", mock.Anything, "https://dl.example/ota-loader.bin").Return([]byte("ota"), nil).Once()

			got, err := NewLocator(f, nil).Resolve(context.Background(), fw, Names(dev, fw).OTA, nil)
			require.NoError(t, err)
			assert.Equal(t, []byte("ota"), got)
			f.AssertExpectations(t)
		})
	}
}

func TestArchiveBase(t *testing.T) {
	assert.Equal(t, "https://dl.example/firmware-2.5.0", ArchiveBase("https://dl.example/firmware-2.5.0.zip"))
	assert.Equal(t, "https://dl.example/firmware-2.5.0", ArchiveBase("https://dl.example/firmware-2.5.0"))
}

func TestSwapExt(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://x/firmware-a-1.0-update.bin", "https://x/firmware-a-1.0.uf2"},
		{"https://x/firmware-a-1.0.factory.bin", "https://x/firmware-a-1.0.uf2"},
		{"https://x/plain.bin", "https://x/plain.uf2"},
		{"https://x/noext", "https://x/noext.uf2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, swapExt(tt.in, ".uf2"), tt.in)
	}
}

// ---------------------------------------------------------------------------
// HTTPFetcher
// ---------------------------------------------------------------------------

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.bin":
			assert.Equal(t, "mh-flasher", r.Header.Get("User-Agent"))
			w.Write([]byte("payload"))
		case "/big.bin":
			w.Write(make([]byte, 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(0)

	data, err := f.Fetch(context.Background(), srv.URL+"/ok.bin")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = f.Fetch(context.Background(), srv.URL+"/missing.bin")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.Status)

	f.MaxSize = 16
	_, err = f.Fetch(context.Background(), srv.URL+"/big.bin")
	assert.Error(t, err)
}

func TestSaveUF2(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")

	p, err := SaveUF2(dir, "../escape/firmware.uf2", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "firmware.uf2"), p)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "img", string(data))
}

func TestUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Firmware-X.FACTORY.BIN")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	up, err := LoadUpload(path)
	require.NoError(t, err)
	assert.True(t, up.IsFactory())
	assert.False(t, up.IsArchive())

	_, err = LoadUpload(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	var none *Upload
	assert.False(t, none.IsArchive())

	assert.True(t, errors.Is(&NotFoundError{Name: "x"}, ErrArtifactNotFound))
}
