package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/diary/internal/model"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator はタグ名をJSON/クエリ名で報告するバリデータを返す。
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, key := range []string{"json", "query"} {
				name := strings.SplitN(f.Tag.Get(key), ",", 2)[0]
				if name == "-" {
					continue
				}
				if name != "" {
					return name
				}
			}
			return f.Name
		})
	})
	return validate
}

// validateRequest は構造体を検証し、最初の違反をAPIErrorに変換して返す。
// datetimeタグの違反は日付形式エラーとして扱う。
func validateRequest(v any) *model.APIError {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return model.NewInvalidRequestBodyError()
	}

	fe := fieldErrs[0]
	if fe.Tag() == "datetime" {
		return model.NewInvalidDateError(fe.Field(), fmt.Sprint(derefValue(fe.Value())))
	}
	reason := fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	return model.NewInvalidParameterError(fe.Field(), reason)
}

func derefValue(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ""
		}
		return rv.Elem().Interface()
	}
	return v
}

// decodeJSONBody はリクエストボディをdstにデコードする。
// 空のボディはゼロ値のまま受け付ける。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) *model.APIError {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return model.NewInvalidRequestBodyError()
	}
	return nil
}

// parseDate は検証済みのYYYY-MM-DD文字列をUTCの日付に変換する。空文字列はnilを返す。
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil
	}
	return &t
}

// firstQuery は候補の名前のうち最初に指定されたクエリパラメータの値を返す。
func firstQuery(r *http.Request, names ...string) string {
	q := r.URL.Query()
	for _, name := range names {
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			return v
		}
	}
	return ""
}
