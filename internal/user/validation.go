package user

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate はリクエスト構造体の検証に使う共有インスタンス。
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// エラーのフィールド名をJSONのキーに合わせる
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationErrors はフィールドごとの検証エラーメッセージ。
type validationErrors map[string]string

// validateRequest はリクエストを検証し、失敗したフィールドのメッセージを返す。
// 問題が無ければnilを返す。
func validateRequest(req any) (validationErrors, error) {
	err := validate.Struct(req)
	if err == nil {
		return nil, nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil, err
	}

	fields := make(validationErrors, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return fields, nil
}

// fieldMessage は検証エラーを利用者向けのメッセージに変換する。
func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s は必須です", field)
	case "email":
		return fmt.Sprintf("%s はメールアドレスの形式で指定してください", field)
	case "min":
		return fmt.Sprintf("%s は%s文字以上で指定してください", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s は%s文字以下で指定してください", field, fe.Param())
	case "alpha":
		return fmt.Sprintf("%s は英字で指定してください", field)
	default:
		return fmt.Sprintf("%s の検証に失敗しました（%s）", field, fe.Tag())
	}
}
