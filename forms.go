package accounts

import (
	"fmt"
	"strings"
)

const (
	passwordMinLength = 6
	passwordMaxLength = 100
)

// RegisterForm is posted to /Account/Register
type RegisterForm struct {
	FirstName       string `schema:"FirstName"`
	LastName        string `schema:"LastName"`
	Email           string `schema:"Email"`
	Password        string `schema:"Password"`
	ConfirmPassword string `schema:"ConfirmPassword"`
}

// LoginForm is posted to /Account/Login
type LoginForm struct {
	Email      string `schema:"Email"`
	Password   string `schema:"Password"`
	RememberMe bool   `schema:"RememberMe"`
}

// ForgotPasswordForm is posted to /Account/ForgotPassword
type ForgotPasswordForm struct {
	Email string `schema:"Email"`
}

// ResetPasswordForm is posted to /Account/ResetPassword
type ResetPasswordForm struct {
	Email           string `schema:"Email"`
	Password        string `schema:"Password"`
	ConfirmPassword string `schema:"ConfirmPassword"`
	Code            string `schema:"Code"`
}

type fieldErrors map[string]string

func (f fieldErrors) required(field, label, value string) {
	if strings.TrimSpace(value) == "" {
		f[field] = fmt.Sprintf("The %s field is required.", label)
	}
}

func (f fieldErrors) email(field, label, value string) {
	if _, ok := f[field]; !ok && !ValidEmail(value) {
		f[field] = fmt.Sprintf("The %s field is not a valid e-mail address.", label)
	}
}

func (f fieldErrors) password(field, value string) {
	if _, ok := f[field]; ok {
		return
	}
	if len(value) < passwordMinLength || len(value) > passwordMaxLength {
		f[field] = fmt.Sprintf("The Password must be at least %d and at max %d characters long.",
			passwordMinLength, passwordMaxLength)
	}
}

func (f fieldErrors) confirm(field, password, confirm string) {
	if password != confirm {
		f[field] = "The password and confirmation password do not match."
	}
}

func (f *RegisterForm) Validate() map[string]string {
	errs := fieldErrors{}
	errs.required("Email", "Email", f.Email)
	errs.email("Email", "Email", f.Email)
	errs.required("Password", "Password", f.Password)
	errs.password("Password", f.Password)
	errs.confirm("ConfirmPassword", f.Password, f.ConfirmPassword)
	return errs
}

func (f *LoginForm) Validate() map[string]string {
	errs := fieldErrors{}
	errs.required("Email", "Email", f.Email)
	errs.email("Email", "Email", f.Email)
	errs.required("Password", "Password", f.Password)
	return errs
}

func (f *ForgotPasswordForm) Validate() map[string]string {
	errs := fieldErrors{}
	errs.required("Email", "Email", f.Email)
	errs.email("Email", "Email", f.Email)
	return errs
}

func (f *ResetPasswordForm) Validate() map[string]string {
	errs := fieldErrors{}
	errs.required("Email", "Email", f.Email)
	errs.email("Email", "Email", f.Email)
	errs.required("Password", "Password", f.Password)
	errs.password("Password", f.Password)
	errs.confirm("ConfirmPassword", f.Password, f.ConfirmPassword)
	return errs
}
