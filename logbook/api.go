package logbook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

// ApiError is the normalized error for every non-2xx gateway response.
// `Fields` carries the server's per-field validation messages when present.
type ApiError struct {
	StatusCode int
	Message    string
	Fields     map[string][]string
}

func (self *ApiError) Error() string {
	if self.Message != "" {
		return self.Message
	}
	return fmt.Sprintf("api error (%d)", self.StatusCode)
}

// shape of the backend's error body
type apiErrorBody struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

// LogbookApi is the remote data gateway. All reads and writes against the
// backend go through the four verb helpers below, which unwrap the
// `{success, message, data}` envelope and attach the bearer token when set.
//
// a 401 notifies the forced logout monitor instead of surfacing as a
// retryable error. the session watches that monitor.
type LogbookApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	httpClient *http.Client

	mutex sync.Mutex
	token string

	forcedLogout *Monitor
}

func NewLogbookApi(apiUrl string) *LogbookApi {
	return NewLogbookApiWithContext(context.Background(), apiUrl)
}

func NewLogbookApiWithContext(ctx context.Context, apiUrl string) *LogbookApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &LogbookApi{
		ctx:          cancelCtx,
		cancel:       cancel,
		apiUrl:       strings.TrimSuffix(apiUrl, "/"),
		httpClient:   defaultClient(),
		forcedLogout: NewMonitor(),
	}
}

// this gets attached to api calls that need it
func (self *LogbookApi) SetToken(token string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.token = token
}

func (self *LogbookApi) Token() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.token
}

// notified when any request comes back 401
func (self *LogbookApi) ForcedLogout() *Monitor {
	return self.forcedLogout
}

func (self *LogbookApi) Close() {
	self.cancel()
}

func fetchData[T any](ctx context.Context, api *LogbookApi, path string) (T, error) {
	return request[T](ctx, api, "GET", path, nil)
}

func postData[T any](ctx context.Context, api *LogbookApi, path string, args any) (T, error) {
	return request[T](ctx, api, "POST", path, args)
}

func updateData[T any](ctx context.Context, api *LogbookApi, path string, args any) (T, error) {
	return request[T](ctx, api, "PATCH", path, args)
}

func deleteData[T any](ctx context.Context, api *LogbookApi, path string) (T, error) {
	return request[T](ctx, api, "DELETE", path, nil)
}

func request[T any](ctx context.Context, api *LogbookApi, method string, path string, args any) (T, error) {
	var empty T

	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, api.apiUrl+path, bytes.NewReader(requestBodyBytes))
	if err != nil {
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")

	if token := api.Token(); token != "" {
		auth := fmt.Sprintf("Bearer %s", token)
		req.Header.Add("Authorization", auth)
	}

	r, err := api.httpClient.Do(req)
	if err != nil {
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return empty, err
	}

	if r.StatusCode == http.StatusUnauthorized {
		glog.Infof("[api]%s %s unauthorized\n", method, path)
		api.forcedLogout.NotifyAll()
		return empty, &ApiError{
			StatusCode: r.StatusCode,
			Message:    "unauthorized",
		}
	}

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		apiError := &ApiError{
			StatusCode: r.StatusCode,
		}
		var errorBody apiErrorBody
		if err := json.Unmarshal(responseBodyBytes, &errorBody); err == nil && errorBody.Message != "" {
			apiError.Message = errorBody.Message
			apiError.Fields = errorBody.Errors
		} else {
			// the response body is the error message
			apiError.Message = strings.TrimSpace(string(responseBodyBytes))
		}
		glog.V(1).Infof("[api]%s %s error = %s\n", method, path, apiError)
		return empty, apiError
	}

	var envelope apiEnvelope[T]
	if err := json.Unmarshal(responseBodyBytes, &envelope); err != nil {
		return empty, err
	}

	if !envelope.Success {
		return empty, &ApiError{
			StatusCode: r.StatusCode,
			Message:    envelope.Message,
		}
	}

	glog.V(2).Infof("[api]%s %s ok\n", method, path)
	return envelope.Data, nil
}

func pagePath(base string, page int, search string, perPage int) string {
	values := url.Values{}
	if 0 < page {
		values.Set("page", fmt.Sprintf("%d", page))
	}
	if search != "" {
		values.Set("search", search)
	}
	if 0 < perPage {
		values.Set("per_page", fmt.Sprintf("%d", perPage))
	}
	if len(values) == 0 {
		return base
	}
	return base + "?" + values.Encode()
}

func (self *LogbookApi) AuthLogin(ctx context.Context, authLogin *AuthLoginArgs) (*AuthLoginResult, error) {
	return postData[*AuthLoginResult](ctx, self, "/auth/login", authLogin)
}

// "who am i" against the bearer token
func (self *LogbookApi) AuthSelf(ctx context.Context) (*UserAccount, error) {
	return fetchData[*UserAccount](ctx, self, "/auth/self")
}

func (self *LogbookApi) AuthLogout(ctx context.Context) error {
	_, err := postData[any](ctx, self, "/auth/logout", nil)
	return err
}

func (self *LogbookApi) GetStatuses(ctx context.Context, page int, search string, perPage int) (*Page[Status], error) {
	return fetchData[*Page[Status]](ctx, self, pagePath("/statuses", page, search, perPage))
}

func (self *LogbookApi) CreateStatus(ctx context.Context, args *StatusArgs) (*Status, error) {
	return postData[*Status](ctx, self, "/statuses", args)
}

func (self *LogbookApi) UpdateStatus(ctx context.Context, statusId int, args *StatusArgs) (*Status, error) {
	return updateData[*Status](ctx, self, fmt.Sprintf("/statuses/%d", statusId), args)
}

func (self *LogbookApi) DeleteStatus(ctx context.Context, statusId int) error {
	_, err := deleteData[any](ctx, self, fmt.Sprintf("/statuses/%d", statusId))
	return err
}

func (self *LogbookApi) GetUnits(ctx context.Context, page int, search string, perPage int) (*Page[Unit], error) {
	return fetchData[*Page[Unit]](ctx, self, pagePath("/units", page, search, perPage))
}

func (self *LogbookApi) CreateUnit(ctx context.Context, args *UnitArgs) (*Unit, error) {
	return postData[*Unit](ctx, self, "/units", args)
}

func (self *LogbookApi) UpdateUnit(ctx context.Context, unitId int, args *UnitArgs) (*Unit, error) {
	return updateData[*Unit](ctx, self, fmt.Sprintf("/units/%d", unitId), args)
}

func (self *LogbookApi) DeleteUnit(ctx context.Context, unitId int) error {
	_, err := deleteData[any](ctx, self, fmt.Sprintf("/units/%d", unitId))
	return err
}

func (self *LogbookApi) GetMitra(ctx context.Context, page int, search string, perPage int) (*Page[Mitra], error) {
	return fetchData[*Page[Mitra]](ctx, self, pagePath("/mitra", page, search, perPage))
}

func (self *LogbookApi) SearchMitra(ctx context.Context, search string) ([]Mitra, error) {
	return fetchData[[]Mitra](ctx, self, pagePath("/mitra/search", 0, search, 0))
}

func (self *LogbookApi) CreateMitra(ctx context.Context, args *MitraArgs) (*Mitra, error) {
	return postData[*Mitra](ctx, self, "/mitra", args)
}

func (self *LogbookApi) UpdateMitra(ctx context.Context, mitraId int, args *MitraArgs) (*Mitra, error) {
	return updateData[*Mitra](ctx, self, fmt.Sprintf("/mitra/%d", mitraId), args)
}

func (self *LogbookApi) DeleteMitra(ctx context.Context, mitraId int) error {
	_, err := deleteData[any](ctx, self, fmt.Sprintf("/mitra/%d", mitraId))
	return err
}

func (self *LogbookApi) GetDokumen(ctx context.Context, page int, search string, perPage int) (*Page[Dokumen], error) {
	return fetchData[*Page[Dokumen]](ctx, self, pagePath("/dokumen", page, search, perPage))
}

func (self *LogbookApi) GetDokumenById(ctx context.Context, dokumenId int) (*Dokumen, error) {
	return fetchData[*Dokumen](ctx, self, fmt.Sprintf("/dokumen/%d", dokumenId))
}

func (self *LogbookApi) CreateDokumen(ctx context.Context, args *DokumenArgs) (*Dokumen, error) {
	return postData[*Dokumen](ctx, self, "/dokumen", args)
}

func (self *LogbookApi) UpdateDokumen(ctx context.Context, dokumenId int, args *DokumenArgs) (*Dokumen, error) {
	return updateData[*Dokumen](ctx, self, fmt.Sprintf("/dokumen/%d", dokumenId), args)
}

func (self *LogbookApi) DeleteDokumen(ctx context.Context, dokumenId int) error {
	_, err := deleteData[any](ctx, self, fmt.Sprintf("/dokumen/%d", dokumenId))
	return err
}

func (self *LogbookApi) GetLogEntries(ctx context.Context, dokumenId int, page int) (*Page[LogEntry], error) {
	return fetchData[*Page[LogEntry]](ctx, self, pagePath(fmt.Sprintf("/dokumen/%d/logbook", dokumenId), page, "", 0))
}

func (self *LogbookApi) CreateLogEntry(ctx context.Context, args *LogEntryArgs) (*LogEntry, error) {
	return postData[*LogEntry](ctx, self, "/logbook", args)
}

func (self *LogbookApi) UpdateLogEntry(ctx context.Context, logEntryId int, args *LogEntryArgs) (*LogEntry, error) {
	return updateData[*LogEntry](ctx, self, fmt.Sprintf("/logbook/%d", logEntryId), args)
}

func (self *LogbookApi) DeleteLogEntry(ctx context.Context, logEntryId int) error {
	_, err := deleteData[any](ctx, self, fmt.Sprintf("/logbook/%d", logEntryId))
	return err
}

func (self *LogbookApi) GetUsers(ctx context.Context, page int, search string, perPage int) (*Page[UserAccount], error) {
	return fetchData[*Page[UserAccount]](ctx, self, pagePath("/users", page, search, perPage))
}

func (self *LogbookApi) UpdateUserRole(ctx context.Context, userId int, args *UserRoleArgs) (*UserAccount, error) {
	return updateData[*UserAccount](ctx, self, fmt.Sprintf("/users/%d/role", userId), args)
}

func (self *LogbookApi) DeleteUser(ctx context.Context, userId int) error {
	_, err := deleteData[any](ctx, self, fmt.Sprintf("/users/%d", userId))
	return err
}
