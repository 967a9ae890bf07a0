package models

import tcerrors "github.com/abdoElHodaky/tradcore/pkg/errors"

func errInvalidOrder(msg string) error {
	return tcerrors.New(tcerrors.KindValidation, tcerrors.CodeInvalidQuantity, msg)
}
